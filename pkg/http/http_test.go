package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name  string `json:"name" validate:"required,max=8"`
	Limit int    `json:"limit" default:"10" validate:"gte=1,lte=50"`
}

func newContext(body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequest(t *testing.T) {
	c, _ := newContext(`{"name":"alpha"}`)
	var req sampleRequest
	require.Nil(t, ReadAndValidateRequest(c, &req))
	assert.Equal(t, 10, req.Limit)

	c, _ = newContext(`{"limit":99}`)
	errs := ReadAndValidateRequest(c, &sampleRequest{})
	require.NotNil(t, errs)
	list := errs.([]ValidationError)
	codes := make([]string, 0, len(list))
	fields := make([]string, 0, len(list))
	for _, e := range list {
		codes = append(codes, e.Code)
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"ERR_REQUIRED", "ERR_LTE"}, codes)
	assert.ElementsMatch(t, []string{"name", "limit"}, fields)
	for _, e := range list {
		if e.Code == "ERR_REQUIRED" {
			assert.Equal(t, "name is required", e.Message)
		}
		if e.Code == "ERR_LTE" {
			assert.Equal(t, "50", e.Params["max"])
		}
	}
}

func TestAppErrorResponse(t *testing.T) {
	c, rec := newContext("")
	require.NoError(t, AppErrorResponse(c, PreconditionError("gamma", "out of bounds")))

	var body struct {
		Status int         `json:"status"`
		Data   []*AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusUnprocessableEntity, body.Status)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_PRECONDITION", body.Data[0].Code)
	assert.Equal(t, "gamma", body.Data[0].Field)

	c, rec = newContext("")
	require.NoError(t, AppErrorResponse(c, errors.New("plain")))
	assert.Contains(t, rec.Body.String(), `"status":500`)
}

func TestClientSendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		if r.URL.Query().Get("asset") == "missing" {
			http.Error(w, "no such asset", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"price":"2.5"}`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Api-Key", "secret"))
	var out struct {
		Price string `json:"price"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"asset": {"TOSS"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "2.5", out.Price)

	err = c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"asset": {"missing"}},
	}, &out)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}
