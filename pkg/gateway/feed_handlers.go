package gateway

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/session"
)

type feedResponse struct {
	Feed      string `json:"feed"`
	Source    string `json:"source"` // "live" or "cache"
	Listening bool   `json:"listening"`
	Data      any    `json:"data"`
}

// listFeedsHandler reports the caller's live feeds.
func (g *Gateway) listFeedsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := session.FromContext(r.Context())

	feeds := []feed.EntryStats{}
	for _, st := range g.service.Registry().Stats() {
		if st.Key.Principal == principal {
			feeds = append(feeds, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds, "count": len(feeds)})
}

// getFeedHandler is the one-shot fetch. A live feed answers from the registry,
// since a push always supersedes a fetched value; otherwise the snapshot cache
// is consulted.
func (g *Gateway) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := g.requestKey(w, r)
	if !ok {
		return
	}

	if st, snap, ok := g.service.Registry().Peek(key); ok && st.Listening && st.HasSnapshot {
		writeJSON(w, http.StatusOK, feedResponse{Feed: st.Feed, Source: "live", Listening: true, Data: snap})
		return
	}

	if g.cache != nil {
		raw, ok, err := g.cache.Load(r.Context(), key)
		if err != nil {
			g.logRequestError(r, "Snapshot cache lookup failed", err)
		} else if ok {
			writeJSON(w, http.StatusOK, feedResponse{Feed: key.String(), Source: "cache", Data: raw})
			return
		}
	}

	g.writeError(w, r, ferrors.NewNotFoundError("feed", key.String()))
}

// refreshFeedHandler forces the shared feed to resubscribe.
func (g *Gateway) refreshFeedHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := g.requestKey(w, r)
	if !ok {
		return
	}
	if !g.service.Registry().Refresh(key) {
		g.writeError(w, r, ferrors.NewNotFoundError("feed", key.String()))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"feed": key.String(), "status": "refreshing"})
}

func (g *Gateway) requestKey(w http.ResponseWriter, r *http.Request) (feed.Key, bool) {
	principal, _ := session.FromContext(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		g.writeError(w, r, err)
		return feed.Key{}, false
	}
	key, err := g.service.Key(principal, chi.URLParam(r, "channel"), limit)
	if err != nil {
		g.writeError(w, r, err)
		return feed.Key{}, false
	}
	return key, true
}

func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, ferrors.NewValidationError("limit", "must be a non-negative integer", v)
	}
	return n, nil
}
