package crm

import (
	"context"

	"calldesk/internal/calls"
)

// Provider is the CRM collaborator. Adapters for specific CRMs live outside
// this module; the desk only depends on this contract.
//
// Rules:
// - Calls are best-effort. Callers log failures and never let them change call state.
// - Implementations must honour ctx cancellation.
type Provider interface {
	Name() string
	Connected() bool

	LookupContact(ctx context.Context, phone string, searchType SearchType) ([]Contact, error)
	LogCall(ctx context.Context, rec calls.Record) (LogResult, error)
}

type SearchType string

const (
	SearchByPhone SearchType = "phone"
	SearchByEmail SearchType = "email"
	SearchByName  SearchType = "name"
)

// Contact is a CRM contact matched during a call.
type Contact struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	// Source names the CRM that returned the contact.
	Source string `json:"source"`
}

// LogResult is the CRM's answer to LogCall.
type LogResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

// Disconnected is the Provider used when no CRM is configured.
type Disconnected struct{}

func (Disconnected) Name() string    { return "none" }
func (Disconnected) Connected() bool { return false }

func (Disconnected) LookupContact(ctx context.Context, phone string, searchType SearchType) ([]Contact, error) {
	return nil, nil
}

func (Disconnected) LogCall(ctx context.Context, rec calls.Record) (LogResult, error) {
	return LogResult{}, nil
}
