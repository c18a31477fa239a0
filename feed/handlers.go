// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feed

import (
	"encoding/json"
	"net/http"

	"github.com/blinklabs-io/privabuild/index"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/ethereum/go-ethereum/common"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy:   true,
		Submissions: len(s.source.List()),
	})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	s.writeEntries(w, r, s.source.List())
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseSubmissionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	entry, ok := s.source.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, newSubmissionResponse(entry, s.config.GatewayURL))
}

func (s *Server) handleBuilderSubmissions(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid builder address")
		return
	}
	s.writeEntries(w, r, s.source.ListBySubmitter(common.HexToAddress(addr)))
}

func (s *Server) writeEntries(w http.ResponseWriter, r *http.Request, entries []index.Entry) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := paginate(entries, params)
	ret := make([]SubmissionResponse, 0, len(page))
	for _, e := range page {
		ret = append(ret, newSubmissionResponse(e, s.config.GatewayURL))
	}
	setPaginationHeaders(w, len(entries), params)
	writeJSON(w, http.StatusOK, ret)
}
