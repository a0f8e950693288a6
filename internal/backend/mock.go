package backend

import (
	"context"
	"net/http"
)

// Mock acknowledges the request without placing a call. The body is marked
// mock so the front end can tell it apart from a real dispatch.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (Mock) Kind() Kind { return KindMock }

type mockAcknowledgment struct {
	Message string   `json:"message"`
	Details string   `json:"details"`
	Data    mockData `json:"data"`
}

type mockData struct {
	Scheduled bool   `json:"scheduled"`
	Phone     string `json:"phone"`
	Agent     string `json:"agent"`
	Mock      bool   `json:"mock"`
}

func (Mock) Dispatch(_ context.Context, call Call) (*Result, error) {
	return JSON(http.StatusOK, mockAcknowledgment{
		Message: "Call request received successfully!",
		Details: "To place real calls, set PRODUCTION_API_URL to the call backend.",
		Data: mockData{
			Scheduled: true,
			Phone:     call.PhoneNumber,
			Agent:     call.Persona,
			Mock:      true,
		},
	})
}
