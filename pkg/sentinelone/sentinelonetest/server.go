/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sentinelonetest provides an in-memory management console for tests.
package sentinelonetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/mfreeman451/telemetrysync/pkg/sentinelone"
	"github.com/rs/zerolog"
)

// Token is the API token the fake console accepts.
const Token = "test-token"

const apiPrefix = "/web/api/v2.1"

// Record is a raw upstream row as the console would return it.
type Record map[string]interface{}

// Server is a fake console serving sites, agents and risks with cursor
// pagination. Rows are filtered by siteIds, ids and isActive when those
// parameters are present.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	sites    []Record
	agents   []Record
	risks    []Record
	requests map[string][]url.Values
	failures []int
	loop     bool
}

// NewServer starts a console that is shut down when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{requests: make(map[string][]url.Values)}

	mux := http.NewServeMux()
	mux.HandleFunc(apiPrefix+"/sites", s.handle("/sites", func() []Record { return s.sites }))
	mux.HandleFunc(apiPrefix+"/agents", s.handle("/agents", func() []Record { return s.agents }))
	mux.HandleFunc(apiPrefix+"/application-management/risks",
		s.handle("/application-management/risks", func() []Record { return s.risks }))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// Config returns client settings pointed at the fake console.
func (s *Server) Config() sentinelone.Config {
	return sentinelone.Config{
		BaseURL:           s.URL,
		APIToken:          Token,
		RequestsPerSecond: 1000,
		Burst:             1000,
		HTTPClient:        s.Client(),
		Logger:            zerolog.Nop(),
	}
}

// Site builds a site row.
func Site(id, name string) Record {
	return Record{"id": id, "name": name, "state": "active", "accountName": "MSP", "activeLicenses": 10}
}

// Agent builds a healthy, active agent row.
func Agent(id, hostname, siteID string) Record {
	return Record{
		"id":             id,
		"computerName":   hostname,
		"siteId":         siteID,
		"osName":         "Windows 11 Pro",
		"osRevision":     "22631.4317",
		"isActive":       true,
		"isUpToDate":     true,
		"infected":       false,
		"activeThreats":  0,
		"lastActiveDate": "2025-03-01T12:00:00.000Z",
		"lastIpToMgmt":   "10.0.0.10",
		"externalIp":     "203.0.113.10",
	}
}

// Risk builds a CVE row.
func Risk(cveID, endpointName, siteID, severity string) Record {
	return Record{
		"cveId":              cveID,
		"endpointName":       endpointName,
		"siteId":             siteID,
		"severity":           severity,
		"baseScore":          7.5,
		"application":        "openssl",
		"applicationVersion": "3.0.1",
		"publishedDate":      "2024-06-01T00:00:00Z",
	}
}

// AddSites appends site rows.
func (s *Server) AddSites(rows ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sites = append(s.sites, rows...)
}

// AddAgents appends agent rows.
func (s *Server) AddAgents(rows ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents = append(s.agents, rows...)
}

// AddRisks appends risk rows.
func (s *Server) AddRisks(rows ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.risks = append(s.risks, rows...)
}

// SetRisks replaces the risk rows.
func (s *Server) SetRisks(rows ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.risks = rows
}

// FailNext makes the next n requests answer with status.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.failures = append(s.failures, status)
	}
}

// LoopCursor makes every page hand back a next cursor, simulating a
// console whose pagination never terminates.
func (s *Server) LoopCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loop = true
}

// Requests returns the query of every request made to path, in order.
func (s *Server) Requests(path string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]url.Values(nil), s.requests[path]...)
}

func (s *Server) handle(path string, rows func() []Record) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "ApiToken "+Token {
			writeJSON(w, http.StatusUnauthorized, Record{"message": "Authentication failed"})

			return
		}

		s.mu.Lock()
		s.requests[path] = append(s.requests[path], r.URL.Query())

		if len(s.failures) > 0 {
			status := s.failures[0]
			s.failures = s.failures[1:]
			s.mu.Unlock()

			writeJSON(w, status, Record{"message": http.StatusText(status)})

			return
		}

		matched := filterRows(rows(), r.URL.Query())
		loop := s.loop
		s.mu.Unlock()

		query := r.URL.Query()

		limit, err := strconv.Atoi(query.Get("limit"))
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, Record{"message": "limit is required"})

			return
		}

		offset := 0
		if cursor := query.Get("cursor"); cursor != "" {
			offset, err = strconv.Atoi(strings.TrimPrefix(cursor, "c"))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, Record{"message": "bad cursor"})

				return
			}
		}

		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}

		if offset > len(matched) {
			offset = len(matched)
		}

		var next interface{}

		switch {
		case loop:
			next = fmt.Sprintf("c%d", offset)
		case end < len(matched):
			next = fmt.Sprintf("c%d", end)
		}

		page := matched[offset:end]
		pag := Record{"nextCursor": next, "totalItems": len(matched)}

		if path == "/sites" {
			writeJSON(w, http.StatusOK, Record{"data": Record{"sites": page}, "pagination": pag})

			return
		}

		writeJSON(w, http.StatusOK, Record{"data": page, "pagination": pag})
	}
}

func filterRows(rows []Record, query url.Values) []Record {
	siteIDs := splitParam(query.Get("siteIds"))
	ids := splitParam(query.Get("ids"))
	active := query.Get("isActive")

	out := make([]Record, 0, len(rows))

	for _, row := range rows {
		if len(siteIDs) > 0 && !siteIDs[fmt.Sprint(row["siteId"])] {
			continue
		}

		if len(ids) > 0 && !ids[fmt.Sprint(row["id"])] {
			continue
		}

		if active != "" && fmt.Sprint(row["isActive"]) != active {
			continue
		}

		out = append(out, row)
	}

	return out
}

func splitParam(v string) map[string]bool {
	if v == "" {
		return nil
	}

	set := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		set[part] = true
	}

	return set
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
