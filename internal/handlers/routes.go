package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{}
	auth := AuthHandler{
		Users:           deps.Users,
		Sessions:        deps.Sessions,
		Limiter:         deps.AuthLimiter,
		StartingCredits: deps.StartingCredits,
	}
	files := FileHandler{
		Files:    deps.Files,
		Clips:    deps.Clips,
		Engine:   deps.Engine,
		Credits:  deps.Credits,
		Uploads:  deps.Uploads,
		Objects:  deps.Objects,
		Sessions: deps.Sessions,
	}
	editing := EditHandler{
		Planner:  deps.Planner,
		Applier:  deps.Applier,
		History:  deps.EditHistory,
		Sessions: deps.Sessions,
	}
	chatting := ChatHandler{Chat: deps.Chat, Sessions: deps.Sessions}
	transcripts := TranscriptHandler{
		Files:       deps.Files,
		Transcripts: deps.Transcripts,
		Sessions:    deps.Sessions,
	}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/auth/login", auth.Login)
	mux.HandleFunc("/api/v1/auth/signup", auth.SignUp)
	mux.HandleFunc("/api/v1/auth/refresh", auth.Refresh)
	mux.HandleFunc("/api/v1/files", files.Create)
	mux.HandleFunc("/api/v1/files/upload", files.Upload)
	mux.HandleFunc("/api/v1/files/upload-url", files.UploadURL)
	mux.HandleFunc("/api/v1/files/list", files.List)
	mux.HandleFunc("/api/v1/files/status", files.Status)
	mux.HandleFunc("/api/v1/credits", files.Balance)
	mux.HandleFunc("/api/v1/transcript", transcripts.Fetch)
	mux.HandleFunc("/api/v1/edits/plan", editing.Plan)
	mux.HandleFunc("/api/v1/edits/preview", editing.Preview)
	mux.HandleFunc("/api/v1/edits/apply", editing.Apply)
	mux.HandleFunc("/api/v1/edits/history", editing.ListHistory)
	mux.HandleFunc("/api/v1/chat", chatting.Ask)
	mux.HandleFunc("/api/v1/chat/history", chatting.History)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users           UserStore
	Sessions        SessionManager
	Files           FileStore
	Clips           ClipReader
	Transcripts     TranscriptReader
	Engine          WorkflowScheduler
	Credits         CreditReader
	Uploads         UploadSigner
	Objects         ObjectSaver
	Planner         EditPlanner
	Applier         EditApplier
	EditHistory     EditHistory
	Chat            ChatService
	AuthLimiter     RateLimiter
	StartingCredits int
}
