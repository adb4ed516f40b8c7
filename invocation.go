package eventsink

import (
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/nyaruka/eventsink/core/models"
	"github.com/nyaruka/gocommon/jsonx"
)

// Invocation is what we are invoked with, a batch of events under a data key
type Invocation struct {
	Data []models.Record `json:"data"`
}

// Response is what we return from an invocation
type Response = events.APIGatewayProxyResponse

// Result is the body of a response
type Result struct {
	Message            string  `json:"message,omitempty"`
	NumEventsProcessed int     `json:"num_events_processed"`
	NumDuplicateEvents int     `json:"num_duplicate_events"`
	NumInvalidEvents   int     `json:"num_invalid_events"`
	Timestamp          float64 `json:"timestamp"`
}

func newResponse(statusCode int, result *Result) Response {
	return Response{
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(jsonx.MustMarshal(result)),
	}
}

func newErrorResponse(message string, now time.Time) Response {
	return newResponse(http.StatusBadRequest, &Result{Message: message, Timestamp: unixSeconds(now)})
}

// seconds since epoch with sub-second precision
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
