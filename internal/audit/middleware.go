package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/mwire-gateway/internal/obs"
)

// HTTPRecorder writes one audit entry per handled request on the routes it
// wraps. Entries are written after the handler, so denied and failed calls are
// recorded with their final status.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)
}

// HTTPConfig describes the audited action of a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	// Actor fixes the actor kind for machine callers such as the processor
	// backend. Zero means operator when basic auth is present.
	Actor ActorKind
	// Metadata adds route fields. It sees the final response status.
	Metadata func(r *http.Request, status int) map[string]any
}

// Middleware records the wrapped route.
func (rec HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec.Service == nil || !rec.Service.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := obs.NewStatusRecorder(w)
			next.ServeHTTP(sr, r)

			var resourceID string
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(r, cfg.ResourceIDParam)
			}
			err := rec.Service.Record(r.Context(), actorOf(r, cfg.Actor), cfg.Action, cfg.ResourceType,
				resourceID, r, sr.Status(), metadataOf(r, sr.Status(), cfg.Metadata))
			if err != nil && rec.OnError != nil {
				rec.OnError(err)
			}
		})
	}
}

func actorOf(r *http.Request, fixed ActorKind) Actor {
	user, _, hasAuth := r.BasicAuth()
	if fixed != "" {
		return Actor{Kind: fixed}
	}
	if hasAuth && user != "" {
		return Actor{Kind: ActorKindOperator, ID: user}
	}
	return Actor{Kind: ActorKindAnonymous}
}

func metadataOf(r *http.Request, status int, fn func(*http.Request, int) map[string]any) []byte {
	if fn == nil {
		return nil
	}
	fields := fn(r, status)
	if len(fields) == 0 {
		return nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}
