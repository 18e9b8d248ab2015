package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ExampleAdminHandler_ListWorkers shows how to serve the /v1/workers endpoint.
func ExampleAdminHandler_ListWorkers() {
	mgr := &mockManager{}
	mgr.On("Workers").Return([]crawler.WorkerSnapshot{
		{ID: "acme-1", Vendor: "acme", State: crawler.WorkerIdle, Active: true},
	})
	handler := NewAdminHandler(mgr, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	rec := httptest.NewRecorder()
	handler.ListWorkers(rec, req)

	var payload struct {
		Workers []crawler.WorkerSnapshot `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("%s is %s\n", payload.Workers[0].ID, payload.Workers[0].State)
	// Output:
	// acme-1 is idle
}
