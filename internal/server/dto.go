package server

import (
	"caseline/internal/engine"
)

// Request payloads

type CreateTransactionRequest struct {
	DefinitionKey     string         `json:"definition_key"`
	ProcessInstanceID *string        `json:"process_instance_id,omitempty"`
	Status            *string        `json:"status,omitempty"`
	Data              map[string]any `json:"data"`
}

type UpdateTransactionRequest struct {
	Status            *string        `json:"status,omitempty"`
	ProcessInstanceID *string        `json:"process_instance_id,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
}

type CreateRecordRequest struct {
	DefinitionKey string         `json:"definition_key"`
	TransactionID string         `json:"transaction_id"`
	ExternalID    *string        `json:"external_id,omitempty"`
	Status        *string        `json:"status,omitempty"`
	Data          map[string]any `json:"data"`
}

type UpdateRecordRequest struct {
	Status        *string        `json:"status,omitempty"`
	ExternalID    *string        `json:"external_id,omitempty"`
	TransactionID *string        `json:"transaction_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Responses

type RecordResponse struct {
	ID                  string         `json:"id"`
	RecordDefinitionKey string         `json:"record_definition_key"`
	ExternalID          string         `json:"external_id,omitempty"`
	Status              string         `json:"status"`
	Expires             string         `json:"expires,omitempty" format:"date-time"`
	CreatedFrom         string         `json:"created_from"`
	LastUpdatedFrom     *string        `json:"last_updated_from,omitempty"`
	CreatedBy           string         `json:"created_by"`
	LastUpdatedBy       string         `json:"last_updated_by"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
	UpdatedAt           string         `json:"updated_at" format:"date-time"`
	Version             int64          `json:"version"`
	Data                map[string]any `json:"data"`
}

func recordResponse(v engine.RecordView) RecordResponse {
	return RecordResponse{
		ID:                  v.Record.ID,
		RecordDefinitionKey: v.Record.RecordDefinitionKey,
		ExternalID:          v.Record.ExternalID,
		Status:              v.Status,
		Expires:             v.Record.Expires,
		CreatedFrom:         v.Record.CreatedFrom,
		LastUpdatedFrom:     v.Record.LastUpdatedFrom,
		CreatedBy:           v.Record.CreatedBy,
		LastUpdatedBy:       v.Record.LastUpdatedBy,
		CreatedAt:           v.Record.CreatedAt,
		UpdatedAt:           v.Record.UpdatedAt,
		Version:             v.Record.Version,
		Data:                v.Data,
	}
}

type TransactionResponse struct {
	ID                       string         `json:"id"`
	TransactionDefinitionKey string         `json:"transaction_definition_key"`
	ProcessInstanceID        string         `json:"process_instance_id,omitempty"`
	Status                   string         `json:"status"`
	CreatedBy                string         `json:"created_by"`
	LastUpdatedBy            string         `json:"last_updated_by"`
	CreatedAt                string         `json:"created_at" format:"date-time"`
	UpdatedAt                string         `json:"updated_at" format:"date-time"`
	Version                  int64          `json:"version"`
	Data                     map[string]any `json:"data"`
}

func transactionResponse(v engine.TransactionView) TransactionResponse {
	return TransactionResponse{
		ID:                       v.Transaction.ID,
		TransactionDefinitionKey: v.Transaction.TransactionDefinitionKey,
		ProcessInstanceID:        v.Transaction.ProcessInstanceID,
		Status:                   v.Transaction.Status,
		CreatedBy:                v.Transaction.CreatedBy,
		LastUpdatedBy:            v.Transaction.LastUpdatedBy,
		CreatedAt:                v.Transaction.CreatedAt,
		UpdatedAt:                v.Transaction.UpdatedAt,
		Version:                  v.Transaction.Version,
		Data:                     v.Data,
	}
}

type pagedRecords struct {
	Items         []RecordResponse `json:"items"`
	TotalElements int64            `json:"totalElements"`
	PageNumber    int              `json:"pageNumber"`
	PageSize      int              `json:"pageSize"`
}

func recordPageResponse(page engine.RecordPageView) pagedRecords {
	out := pagedRecords{
		Items:         []RecordResponse{},
		TotalElements: page.TotalElements,
		PageNumber:    page.PageNumber,
		PageSize:      page.PageSize,
	}
	for _, v := range page.Items {
		out.Items = append(out.Items, recordResponse(v))
	}
	return out
}

type pagedTransactions struct {
	Items         []TransactionResponse `json:"items"`
	TotalElements int64                 `json:"totalElements"`
	PageNumber    int                   `json:"pageNumber"`
	PageSize      int                   `json:"pageSize"`
}

func transactionPageResponse(page engine.TransactionPageView) pagedTransactions {
	out := pagedTransactions{
		Items:         []TransactionResponse{},
		TotalElements: page.TotalElements,
		PageNumber:    page.PageNumber,
		PageSize:      page.PageSize,
	}
	for _, v := range page.Items {
		out.Items = append(out.Items, transactionResponse(v))
	}
	return out
}

type EnumerationOptionResponse struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Rank  *int   `json:"rank,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
