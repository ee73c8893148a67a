package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every JSON endpoint returns. Exactly one of Data
// or Error is meaningful.
type Response struct {
	Data       any         `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	// Details carries state the client needs to react, such as the session
	// state and reason on a conflict.
	Details map[string]any `json:"details,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination derives TotalPages from total and perPage.
func NewPagination(page, perPage, total int) *Pagination {
	p := &Pagination{Page: page, PerPage: perPage, TotalItems: total}
	if perPage > 0 {
		p.TotalPages = (total + perPage - 1) / perPage
	}
	return p
}

type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

func Success(c *gin.Context, status int, data any) {
	write(c, status, Response{Data: data})
}

func SuccessWithPagination(c *gin.Context, status int, data any, p *Pagination) {
	write(c, status, Response{Data: data, Pagination: p})
}

// Fail writes an error envelope whose message comes from the code's catalogue
// entry.
func Fail(c *gin.Context, status int, code ErrCode) {
	write(c, status, Response{Error: errorBody(code)})
}

// FailWithFields attaches per-field validation messages.
func FailWithFields(c *gin.Context, status int, code ErrCode, fields map[string]string) {
	body := errorBody(code)
	body.Fields = fields
	write(c, status, Response{Error: body})
}

func FailWithDetails(c *gin.Context, status int, code ErrCode, details map[string]any) {
	body := errorBody(code)
	body.Details = details
	write(c, status, Response{Error: body})
}

// AbortFail is Fail for middleware: the remaining handlers do not run.
func AbortFail(c *gin.Context, status int, code ErrCode) {
	c.Abort()
	Fail(c, status, code)
}

func errorBody(code ErrCode) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code)}
}

func write(c *gin.Context, status int, r Response) {
	if r.Error != nil {
		_ = c.Error(errorCode(r.Error.Code))
	}
	r.Metadata = Metadata{
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	c.JSON(status, r)
}

// requestID falls back to a fresh UUID when RequestIDMiddleware did not run.
func requestID(c *gin.Context) string {
	if id := c.GetString(ContextKeyRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// errorCode lets the access log list the codes a request failed with.
type errorCode ErrCode

func (e errorCode) Error() string { return string(e) }
