package handler

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-gateway/internal/usecase"
)

//go:embed index.html
var indexHTML string

const (
	chatPath  = "/api/chat"
	clearPath = "/api/clear"

	correlationHeader = "X-Correlation-Id"
)

// corsHeaders go on every JSON and preflight response. The frontend may be
// served from a different origin than the API, so the policy is permissive.
func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type",
	}
}

// ChatUseCase is the application surface the handler dispatches into.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Clear(ctx context.Context, sessionID string) error
}

type Handler struct {
	uc ChatUseCase
}

func NewHandler(uc ChatUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

type clearRequest struct {
	SessionID string `json:"sessionId"`
}

type clearResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes one API Gateway proxy event: CORS preflight, the two JSON
// endpoints, and an HTML fallback for everything else.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)

	if req.HTTPMethod == http.MethodOptions {
		headers := corsHeaders()
		headers[correlationHeader] = corrID
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusNoContent,
			Headers:    headers,
		}, nil
	}

	switch {
	case req.Path == chatPath && req.HTTPMethod == http.MethodPost:
		return h.handleChat(ctx, corrID, req.Body), nil
	case req.Path == clearPath && req.HTTPMethod == http.MethodPost:
		return h.handleClear(ctx, corrID, req.Body), nil
	default:
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/html"},
			Body:       indexHTML,
		}, nil
	}
}

func (h *Handler) handleChat(ctx context.Context, corrID, body string) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: "invalid request body"})
	}

	out, err := h.uc.Chat(ctx, usecase.ChatInput{
		Message:   in.Message,
		SessionID: in.SessionID,
	})
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			slog.Error("chat request failed", "err", err, "correlation_id", corrID)
		}
		return jsonResponse(status, corrID, errorResponse{Error: err.Error()})
	}

	return jsonResponse(http.StatusOK, corrID, chatResponse{
		Response:  out.Response,
		SessionID: out.SessionID,
	})
}

func (h *Handler) handleClear(ctx context.Context, corrID, body string) events.APIGatewayProxyResponse {
	var in clearRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: "invalid request body"})
	}

	// An absent sessionId deletes an undefined key, which is a no-op rather
	// than an error.
	if err := h.uc.Clear(ctx, in.SessionID); err != nil {
		slog.Error("clear request failed", "err", err, "correlation_id", corrID)
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: err.Error()})
	}

	return jsonResponse(http.StatusOK, corrID, clearResponse{Success: true})
}

// statusForError maps use-case error codes to HTTP statuses. Validation
// failures are the caller's fault; everything else surfaces as a server
// failure with the message passed through.
func statusForError(err error) int {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, corrID string, payload any) events.APIGatewayProxyResponse {
	headers := corsHeaders()
	headers["Content-Type"] = "application/json"
	headers[correlationHeader] = corrID

	body, err := json.Marshal(payload)
	if err != nil {
		// Payload shapes are fixed structs; this cannot fail in practice.
		slog.Error("marshal response body", "err", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"internal error"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(body),
	}
}

// correlationID reuses a caller-supplied correlation id header
// (case-insensitively, as API Gateway forwards arbitrary casing) or mints a
// fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == correlationHeader && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
