package server

import (
	"net/http"

	"github.com/Proton-105/himera-analytics/internal/api"
	"github.com/Proton-105/himera-analytics/internal/selection"
	"github.com/Proton-105/himera-analytics/internal/webapp"
)

type viewer struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

type authView struct {
	Status  webapp.Status `json:"status"`
	User    *viewer       `json:"user,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

type dashboardResponse struct {
	Auth             authView             `json:"auth"`
	Bots             []api.Bot            `json:"bots"`
	SelectedBotID    int64                `json:"selected_bot_id,omitempty"`
	Range            selection.DateRange  `json:"range"`
	Analytics        []api.AnalyticsPoint `json:"analytics"`
	AnalyticsKey     *selection.FetchKey  `json:"analytics_key,omitempty"`
	Summary          *api.Summary         `json:"summary,omitempty"`
	BotsLoading      bool                 `json:"bots_loading"`
	AnalyticsLoading bool                 `json:"analytics_loading"`
	SummaryLoading   bool                 `json:"summary_loading"`
	Error            string               `json:"error,omitempty"`
	Notice           string               `json:"notice,omitempty"`
}

// handleDashboard renders the coordinator snapshot. The init data hash never leaves the process.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	state := s.bridge.State()

	resp := dashboardResponse{
		Auth:             s.authView(r, state),
		Bots:             snap.Bots,
		SelectedBotID:    snap.SelectedBotID,
		Range:            snap.Range,
		Analytics:        snap.Analytics,
		AnalyticsKey:     snap.AnalyticsKey,
		Summary:          snap.Summary,
		BotsLoading:      snap.BotsLoading,
		AnalyticsLoading: snap.AnalyticsLoading,
		SummaryLoading:   snap.SummaryLoading,
	}
	if snap.Error != "" {
		resp.Error = s.translate(r, snap.Error)
	}

	switch {
	case state.IsAuthenticated() && !snap.BotsLoading && len(snap.Bots) == 0 && snap.Error == "":
		resp.Notice = s.translate(r, "dashboard.no_bots")
	case state.IsAuthenticated() && !snap.Range.Complete():
		resp.Notice = s.translate(r, "dashboard.pick_range")
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authView(r *http.Request, state webapp.AuthState) authView {
	view := authView{Status: state.Status}

	switch state.Status {
	case webapp.StatusAuthenticated:
		if id := state.Identity; id != nil {
			view.User = &viewer{ID: id.ID, FirstName: id.FirstName, LastName: id.LastName, Username: id.Username, PhotoURL: id.PhotoURL}
		}
	case webapp.StatusUninitialized:
		view.Message = s.translate(r, "auth.pending")
	default:
		if failure := s.bridge.Failure(); failure != nil {
			view.Code = failure.Code
			view.Message = s.translate(r, failure.UserMessage)
		} else {
			view.Message = s.translate(r, "auth.signed_out")
		}
	}

	return view
}
