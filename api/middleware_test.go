package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banachtech/basket-credit/mainfuncs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const scenarioBody = `{"reference_date": "2023-01-17", "models": ["lhp", "recursive"]}`

func newTestServer(t *testing.T, key string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if key == "" {
		return NewServer("")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return NewServer(string(hash))
}

func TestAuthMiddleware(t *testing.T) {
	key := "bc_8Kd2.RGbV3hb3LEwYohYW"
	server := newTestServer(t, key)

	testCases := []struct {
		name          string
		setupAuth     func(t *testing.T, request *http.Request)
		checkResponse func(t *testing.T, recorder *httptest.ResponseRecorder)
	}{
		{
			name: "OK",
			setupAuth: func(t *testing.T, request *http.Request) {
				request.Header.Set(authorizationHeaderKey, fmt.Sprintf("%s %s", authorizationTypeBearer, key))
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusOK, recorder.Code)
			},
		},
		{
			name:      "NO_AUTHORIZATION",
			setupAuth: func(t *testing.T, request *http.Request) {},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusUnauthorized, recorder.Code)
			},
		},
		{
			name: "UNSUPPORTED_AUTHORIZATION",
			setupAuth: func(t *testing.T, request *http.Request) {
				request.Header.Set(authorizationHeaderKey, fmt.Sprintf("%s %s", "unsupported", key))
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusUnauthorized, recorder.Code)
			},
		},
		{
			name: "INVALID_AUTHORIZATION_FORMAT",
			setupAuth: func(t *testing.T, request *http.Request) {
				request.Header.Set(authorizationHeaderKey, key)
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusUnauthorized, recorder.Code)
			},
		},
		{
			name: "WRONG_KEY",
			setupAuth: func(t *testing.T, request *http.Request) {
				request.Header.Set(authorizationHeaderKey, fmt.Sprintf("%s %s", authorizationTypeBearer, "bc_8Kd2.wrong"))
			},
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusUnauthorized, recorder.Code)
			},
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			request, err := http.NewRequest(http.MethodPost, "/v1/tranche", bytes.NewBufferString(scenarioBody))
			require.NoError(t, err)

			tc.setupAuth(t, request)
			server.router.ServeHTTP(recorder, request)
			tc.checkResponse(t, recorder)
		})
	}

	// health stays open
	recorder := httptest.NewRecorder()
	request, err := http.NewRequest(http.MethodGet, "/v1/health", nil)
	require.NoError(t, err)
	server.router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestTranche(t *testing.T) {
	server := newTestServer(t, "")

	testCases := []struct {
		name          string
		body          string
		checkResponse func(t *testing.T, recorder *httptest.ResponseRecorder)
	}{
		{
			name: "OK",
			body: scenarioBody,
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusOK, recorder.Code)
				var report mainfuncs.Report
				require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
				require.Equal(t, "2028-01-17", report.Horizon)
				require.Len(t, report.Results, 2)
				require.InDelta(t, report.Results[1].ExpectedTrancheLoss, report.Results[0].ExpectedTrancheLoss, 4)
			},
		},
		{
			name: "INVERTED_TRANCHE",
			body: `{"reference_date": "2023-01-17", "attach": 0.5, "detach": 0.1}`,
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusBadRequest, recorder.Code)
			},
		},
		{
			name: "BAD_JSON",
			body: `{"names": 3}`,
			checkResponse: func(t *testing.T, recorder *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusBadRequest, recorder.Code)
			},
		},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			request, err := http.NewRequest(http.MethodPost, "/v1/tranche", bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			server.router.ServeHTTP(recorder, request)
			tc.checkResponse(t, recorder)
		})
	}
}

func TestLadder(t *testing.T) {
	server := newTestServer(t, "")

	for _, test := range []struct {
		name string
		body string
		code int
	}{
		{name: "OK", body: `{"scenario": ` + scenarioBody + `, "step": "1Y"}`, code: http.StatusOK},
		{name: "MISSING_STEP", body: `{"scenario": ` + scenarioBody + `}`, code: http.StatusBadRequest},
		{name: "ZERO_STEP", body: `{"scenario": ` + scenarioBody + `, "step": "0M"}`, code: http.StatusBadRequest},
	} {
		t.Run(test.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			request, err := http.NewRequest(http.MethodPost, "/v1/ladder", bytes.NewBufferString(test.body))
			require.NoError(t, err)
			server.router.ServeHTTP(recorder, request)
			require.Equal(t, test.code, recorder.Code)
			if test.code != http.StatusOK {
				return
			}
			var report mainfuncs.LadderReport
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
			require.Len(t, report.Dates, 6)
			require.Len(t, report.Results, 2)
		})
	}
}
