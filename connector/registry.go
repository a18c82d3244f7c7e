package connector

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/caremesh/ehrbridge/auth"
	"github.com/rs/zerolog/log"
)

// Registry holds the configured vendor connectors, keyed by vendor ID, and
// dispatches inbound integration requests to the right one. It is constructed
// at startup and passed by reference to the HTTP layer; there is no ambient
// global state.
type Registry struct {
	connectors map[string]*Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: map[string]*Connector{}}
}

func (r *Registry) Register(connector *Connector) {
	r.connectors[connector.ID()] = connector
}

func (r *Registry) Get(vendorID string) (*Connector, bool) {
	connector, ok := r.connectors[vendorID]
	return connector, ok
}

// VendorIDs returns the configured vendor IDs, sorted. No secrets.
func (r *Registry) VendorIDs() []string {
	var ids []string
	for id := range r.connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /fhir", r.handleListVendors)
	mux.HandleFunc("GET /fhir/{vendor}/{resourceType}", r.withConnector(r.handleSearch))
	mux.HandleFunc("GET /fhir/{vendor}/{resourceType}/{id}", r.withConnector(r.handleRead))
	mux.HandleFunc("POST /fhir/{vendor}/{resourceType}", r.withConnector(r.handleCreate))
	mux.HandleFunc("PUT /fhir/{vendor}/{resourceType}/{id}", r.withConnector(r.handleUpdate))
	mux.HandleFunc("DELETE /fhir/{vendor}/{resourceType}/{id}", r.withConnector(r.handleDelete))
}

func (r *Registry) handleListVendors(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(map[string]any{"vendors": r.VendorIDs()})
}

// withConnector resolves the vendor connector from the request path and
// attaches the caller identity (audit attribution only) to the context.
func (r *Registry) withConnector(handler func(http.ResponseWriter, *http.Request, *Connector)) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		vendorID := request.PathValue("vendor")
		connector, ok := r.Get(vendorID)
		if !ok {
			log.Ctx(request.Context()).Warn().Msgf("Unknown vendor in request path: %s", vendorID)
			http.Error(writer, "Unknown vendor", http.StatusNotFound)
			return
		}
		ctx := request.Context()
		if actorID := request.Header.Get("X-Actor-ID"); actorID != "" {
			ctx = auth.WithCaller(ctx, auth.Caller{ActorID: actorID})
		}
		handler(writer, request.WithContext(ctx), connector)
	}
}

func (r *Registry) handleSearch(writer http.ResponseWriter, request *http.Request, connector *Connector) {
	result := connector.Search(request.Context(), request.PathValue("resourceType"), request.URL.Query())
	writeResult(writer, result, http.StatusOK)
}

func (r *Registry) handleRead(writer http.ResponseWriter, request *http.Request, connector *Connector) {
	result := connector.Read(request.Context(), request.PathValue("resourceType"), request.PathValue("id"))
	writeResult(writer, result, http.StatusOK)
}

func (r *Registry) handleCreate(writer http.ResponseWriter, request *http.Request, connector *Connector) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxResponseSize))
	if err != nil {
		http.Error(writer, "Unable to read request body", http.StatusBadRequest)
		return
	}
	result := connector.Create(request.Context(), request.PathValue("resourceType"), body)
	writeResult(writer, result, http.StatusCreated)
}

func (r *Registry) handleUpdate(writer http.ResponseWriter, request *http.Request, connector *Connector) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxResponseSize))
	if err != nil {
		http.Error(writer, "Unable to read request body", http.StatusBadRequest)
		return
	}
	result := connector.Update(request.Context(), request.PathValue("resourceType"), request.PathValue("id"), body)
	writeResult(writer, result, http.StatusOK)
}

func (r *Registry) handleDelete(writer http.ResponseWriter, request *http.Request, connector *Connector) {
	result := connector.Delete(request.Context(), request.PathValue("resourceType"), request.PathValue("id"))
	writeResult(writer, result, http.StatusOK)
}

func writeResult(writer http.ResponseWriter, result OperationResult, successStatus int) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(httpStatusFor(result, successStatus))
	_ = json.NewEncoder(writer).Encode(result)
}

// httpStatusFor maps an OperationResult onto the inbound response status.
// Upstream auth failures surface as 502: they say nothing about the caller's
// own authorization.
func httpStatusFor(result OperationResult, successStatus int) int {
	if result.Success {
		return successStatus
	}
	switch result.Classification {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindVendorRejected:
		if result.HTTPStatus >= 400 && result.HTTPStatus < 500 {
			return result.HTTPStatus
		}
		return http.StatusBadGateway
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
