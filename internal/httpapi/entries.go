package httpapi

import (
	"net/http"
	"time"

	"github.com/rubiojr/nswfuel/internal/coordinator"
	"github.com/rubiojr/nswfuel/internal/counter"
)

type coordinatorStatus struct {
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type entryResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Calls     counter.State     `json:"calls"`
	Nearby    coordinatorStatus `json:"nearby"`
	Favourite coordinatorStatus `json:"favourite"`
}

type nearbyResponse struct {
	coordinatorStatus
	Results coordinator.NearbyResults `json:"results"`
}

type favouriteResponse struct {
	coordinatorStatus
	Result *coordinator.FavouriteResult `json:"result"`
}

type failureResponse struct {
	EntryID     string `json:"entry_id"`
	Coordinator string `json:"coordinator"`
	Error       string `json:"error"`
}

type refreshResponse struct {
	Error    string            `json:"error"`
	Failures []failureResponse `json:"failures"`
}

func status(lastSuccess time.Time, lastErr error) coordinatorStatus {
	var s coordinatorStatus
	if !lastSuccess.IsZero() {
		s.LastSuccess = &lastSuccess
	}
	if lastErr != nil {
		s.LastError = lastErr.Error()
	}
	return s
}

func (rt *Router) handleListEntries(w http.ResponseWriter, r *http.Request) {
	instances := rt.entries.List()
	out := make([]entryResponse, 0, len(instances))
	for _, inst := range instances {
		out = append(out, entryResponse{
			ID:        inst.ID(),
			Name:      inst.Name(),
			Calls:     inst.CurrentCallCount(),
			Nearby:    status(inst.Nearby().LastSuccess(), inst.Nearby().LastError()),
			Favourite: status(inst.Favourite().LastSuccess(), inst.Favourite().LastError()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleNearby(w http.ResponseWriter, r *http.Request) {
	inst, ok := rt.instance(w, r)
	if !ok {
		return
	}
	n := inst.Nearby()
	resp := nearbyResponse{coordinatorStatus: status(n.LastSuccess(), n.LastError())}
	resp.Results, _ = n.Data()
	if resp.Results == nil {
		resp.Results = coordinator.NearbyResults{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) handleFavourite(w http.ResponseWriter, r *http.Request) {
	inst, ok := rt.instance(w, r)
	if !ok {
		return
	}
	f := inst.Favourite()
	resp := favouriteResponse{coordinatorStatus: status(f.LastSuccess(), f.LastError())}
	if data, ok := f.Data(); ok {
		resp.Result = &data
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) handleCalls(w http.ResponseWriter, r *http.Request) {
	inst, ok := rt.instance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.CurrentCallCount())
}
