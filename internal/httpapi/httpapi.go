// Package httpapi is the REST facade over the Store and Cluster: a thin
// gorilla/mux router translating spec.md §6.1's endpoint table into calls
// on internal/store and internal/cluster, and discriminated *lherr.Error
// kinds back into HTTP status codes per §7's propagation policy.
//
// Grounded on original_source/lighthouse/server.py's URL dispatch table;
// router choice grounded on juju-juju's go.mod (github.com/gorilla/mux).
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rapid7/lighthouse/internal/cluster"
	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/lherr"
	"github.com/rapid7/lighthouse/internal/logger"
	"github.com/rapid7/lighthouse/internal/store"
	"github.com/rapid7/lighthouse/internal/version"
)

var log = logger.GetLogger("httpapi")

// Banner is the plain-text body served at GET /.
const Banner = "lighthouse\n"

// New builds the router for st and cl. cl may be nil when the instance
// runs without peers configured.
func New(st *store.Store, cl *cluster.Cluster) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", handleBanner).Methods(http.MethodGet)

	r.HandleFunc("/data/{path:.*}", handleDataRead(st)).Methods(http.MethodGet)
	r.HandleFunc("/data", handleDataRead(st)).Methods(http.MethodGet)
	r.HandleFunc("/data/{path:.*}", handleDataForbidden(st)).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/data", handleDataForbidden(st)).Methods(http.MethodPut, http.MethodDelete)

	r.HandleFunc("/update/{code}/{path:.*}", handleUpdateRead(st)).Methods(http.MethodGet)
	r.HandleFunc("/update/{code}", handleUpdateRead(st)).Methods(http.MethodGet)
	r.HandleFunc("/update/{code}/{path:.*}", handleUpdateSet(st)).Methods(http.MethodPut)
	r.HandleFunc("/update/{code}", handleUpdateSet(st)).Methods(http.MethodPut)
	r.HandleFunc("/update/{code}/{path:.*}", handleUpdateDelete(st)).Methods(http.MethodDelete)
	r.HandleFunc("/update/{code}", handleUpdateDelete(st)).Methods(http.MethodDelete)

	r.HandleFunc("/lock", handleLockGet(st)).Methods(http.MethodGet)
	r.HandleFunc("/lock", handleLockPut(st)).Methods(http.MethodPut)
	r.HandleFunc("/lock/{code}", handleLockCodePut(st)).Methods(http.MethodPut)
	r.HandleFunc("/lock/{code}", handleLockCodeDelete(st)).Methods(http.MethodDelete)

	r.HandleFunc("/copy", handleCopyGet(st)).Methods(http.MethodGet)
	r.HandleFunc("/copy", handleCopyPut(st, cl)).Methods(http.MethodPut)

	r.HandleFunc("/state", handleStateGet(st, cl)).Methods(http.MethodGet)
	r.HandleFunc("/state", handleStatePut(cl)).Methods(http.MethodPut)

	return r
}

func handleBanner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(Banner))
}

// handleDataForbidden rejects writes to /data with 403 if the path exists
// and 404 if it doesn't, matching server.py's put_data/delete_data (which
// check existence before reporting the route is read-only).
func handleDataForbidden(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := splitPath(mux.Vars(r)["path"])
		if _, err := st.Read(path); err != nil {
			writeError(w, err)
			return
		}
		writeError(w, lherr.New(lherr.Forbidden, "writes on /data are forbidden; use /update/<code>"))
	}
}

func handleDataRead(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := splitPath(mux.Vars(r)["path"])
		v, err := st.Read(path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeValue(w, http.StatusOK, v)
	}
}

func handleUpdateRead(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		path := splitPath(vars["path"])
		v, err := st.ReadStaged(vars["code"], path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeValue(w, http.StatusOK, v)
	}
}

func handleUpdateSet(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		path := splitPath(vars["path"])

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, lherr.Wrap(lherr.BadRequest, err))
			return
		}
		val, err := document.ParseValue(body)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := st.StageSet(vars["code"], path, val); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func handleUpdateDelete(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		path := splitPath(vars["path"])
		if err := st.StageDelete(vars["code"], path); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLockGet(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, ok := st.ActiveLeaseCode()
		if !ok {
			writeError(w, lherr.New(lherr.NotFound, "no active lease"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"code": code})
	}
}

// handleLockPut implements PUT /lock: an empty body commits the active
// lease, a non-empty body acquires (or refreshes) a lease using that body
// as the opaque lock code.
func handleLockPut(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, lherr.Wrap(lherr.BadRequest, err))
			return
		}
		code := strings.TrimSpace(string(body))

		if code == "" {
			activeCode, ok := st.ActiveLeaseCode()
			if !ok {
				// No body and no active lease: surface as Forbidden, matching
				// spec.md §6.1's PUT /lock code set (403, not 404).
				writeError(w, lherr.New(lherr.Forbidden, "no active lease to commit"))
				return
			}
			newVersion, err := st.Commit(activeCode)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newVersion)
			return
		}

		if _, err := st.TryAcquireLease(code); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleLockCodePut(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["code"]
		newVersion, err := st.Commit(code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVersion)
	}
}

func handleLockCodeDelete(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["code"]
		if err := st.Abort(code); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleCopyGet(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, d := st.Snapshot()
		writeJSON(w, http.StatusOK, copyBody{Version: v, Data: d.Root})
	}
}

func handleCopyPut(st *store.Store, cl *cluster.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body copyBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		d := &document.Document{Root: body.Data}
		if st.PushRemote(body.Version, d) {
			if cl != nil {
				cl.SignalPushAll()
			}
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func handleStateGet(st *store.Store, cl *cluster.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var peers []cluster.StateDescriptor
		if cl != nil {
			peers = cl.StateDict()
		}
		writeJSON(w, http.StatusOK, stateBody{
			Version: st.CurrentVersion(),
			Cluster: peers,
		})
	}
}

func handleStatePut(cl *cluster.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body stateBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if cl != nil {
			cl.Integrate(body.Cluster)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// copyBody is the wire shape of GET/PUT /copy. It needs custom JSON
// marshaling because Data holds a document.Value, which may be an
// *OrderedMap: OrderedMap's fields are unexported (no plain encoding/json
// support by design, see internal/document), so the data field must go
// through document.MarshalValue/ParseValue the same way
// internal/cluster/wire.go's fetchCopy/pushCopy already do for the client
// side of this same endpoint.
type copyBody struct {
	Version version.Version
	Data    document.Value
}

func (c copyBody) MarshalJSON() ([]byte, error) {
	data, err := document.MarshalValue(c.Data)
	if err != nil {
		return nil, err
	}
	payload := `{"version":{"sequence":` +
		strconv.FormatUint(c.Version.Sequence, 10) + `,"checksum":"` + c.Version.Checksum + `"},"data":` +
		string(data) + `}`
	return []byte(payload), nil
}

func (c *copyBody) UnmarshalJSON(b []byte) error {
	var raw struct {
		Version version.Version `json:"version"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	val, err := document.ParseValue(raw.Data)
	if err != nil {
		return err
	}
	c.Version = raw.Version
	c.Data = val
	return nil
}

type stateBody struct {
	Version version.Version          `json:"version"`
	Cluster []cluster.StateDescriptor `json:"cluster"`
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return lherr.Wrap(lherr.BadRequest, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return lherr.Wrap(lherr.BadRequest, err)
	}
	return nil
}

// splitPath mirrors server.py's URL-decoded path-segment splitting: an
// empty suffix means the root (empty Path), otherwise slash-separated
// segments. gorilla/mux already URL-decodes {path:.*}.
func splitPath(raw string) document.Path {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return document.Path{}
	}
	return document.Path(strings.Split(raw, "/"))
}

func writeValue(w http.ResponseWriter, status int, v document.Value) {
	b, err := document.MarshalValue(v)
	if err != nil {
		writeError(w, lherr.Wrap(lherr.BadRequest, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeError(w, lherr.Wrap(lherr.BadRequest, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// writeError translates a discriminated outcome into a status code per
// spec.md §7. Errors that are not *lherr.Error (shouldn't happen, since
// every internal package returns one) fall back to 500.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := lherr.KindOf(err)
	if !ok {
		log.WithError(err).Error("unclassified error reached the HTTP facade")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case lherr.NotFound:
		status = http.StatusNotFound
	case lherr.Forbidden:
		status = http.StatusForbidden
	case lherr.BadRequest:
		status = http.StatusBadRequest
	case lherr.Conflict:
		status = http.StatusConflict
	case lherr.Unavailable:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
