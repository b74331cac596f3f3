// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"nestwatch/gateway/analysis"
	"nestwatch/gateway/gateway/breaker"
)

// maxAnalyzeBody caps the request body at 4 MB. Event batches are compact;
// anything larger is malformed or abusive.
const maxAnalyzeBody = 4 << 20

// analyzeHandler serves POST /api/analyze.
func (g *Gateway) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req analysis.RequestContext
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody))
	if err := dec.Decode(&req); err != nil {
		g.writeError(w, requestID, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Profile == "" {
		req.Profile = analysis.ProfileJSON
	}
	if req.Profile != analysis.ProfileJSON && req.Profile != analysis.ProfileChat {
		g.writeError(w, requestID, http.StatusBadRequest, "profile must be json or chat")
		return
	}

	result, err := g.Analyze(r.Context(), requestID, req)
	if err != nil {
		g.writeError(w, requestID, http.StatusInternalServerError, err.Error())
		return
	}

	g.writeJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"result":     result,
	})
}

// usageHandler serves GET /api/llm/usage.
func (g *Gateway) usageHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	g.writeJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"budget": g.UsageSummary(),
		"cache":  g.CacheStats(),
	})
}

// breakersHandler serves GET /api/llm/breakers.
func (g *Gateway) breakersHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	g.writeJSON(w, requestID, http.StatusOK, g.BreakerStates())
}

// breakerResetHandler serves POST /api/llm/breakers/{provider}/reset.
func (g *Gateway) breakerResetHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	provider := mux.Vars(r)["provider"]

	known := false
	for _, p := range g.providers {
		if p.Name() == provider {
			known = true
			break
		}
	}
	if !known {
		g.writeError(w, requestID, http.StatusNotFound, "unknown provider: "+provider)
		return
	}

	g.ResetBreaker(provider)
	g.log.Info(requestID, "Breaker reset by operator", map[string]interface{}{
		"provider": provider,
	})
	state := breaker.StateClosed
	if g.breakers != nil {
		state = g.breakers.State(provider)
	}
	g.writeJSON(w, requestID, http.StatusOK, map[string]string{
		"provider": provider,
		"state":    state,
	})
}

// providersHandler serves GET /api/llm/providers.
func (g *Gateway) providersHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	g.writeJSON(w, requestID, http.StatusOK, g.ProviderStatuses())
}

// healthHandler serves GET /health.
func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"service":   "nestwatch-gateway",
		"timestamp": time.Now().UTC(),
	})
}

// RegisterRoutes attaches all gateway endpoints to the router.
func (g *Gateway) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", g.healthHandler).Methods("GET")
	router.HandleFunc("/api/analyze", g.analyzeHandler).Methods("POST")
	router.HandleFunc("/api/llm/usage", g.usageHandler).Methods("GET")
	router.HandleFunc("/api/llm/breakers", g.breakersHandler).Methods("GET")
	router.HandleFunc("/api/llm/breakers/{provider}/reset", g.breakerResetHandler).Methods("POST")
	router.HandleFunc("/api/llm/providers", g.providersHandler).Methods("GET")
}

func (g *Gateway) writeJSON(w http.ResponseWriter, requestID string, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.log.Error(requestID, "Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, requestID string, status int, message string) {
	g.log.ErrorWithCode(requestID, "Request failed", status, nil, map[string]interface{}{
		"detail": message,
	})
	g.writeJSON(w, requestID, status, map[string]interface{}{
		"error":      message,
		"request_id": requestID,
	})
}
