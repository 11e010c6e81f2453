package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/hardware"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHost struct {
	cpus   int
	memory uint64
}

func (h fakeHost) LogicalCPUs() int { return h.cpus }

func (h fakeHost) TotalMemory() uint64 { return h.memory }

func (h fakeHost) Detect() hardware.Info {
	return hardware.Info{LogicalCPUs: h.cpus, TotalMemory: h.memory}
}

type fakeMiner struct {
	mu       sync.Mutex
	admitted []mining.JobRequest
	result   mining.JobResult
}

func (m *fakeMiner) Admit(_ context.Context, req mining.JobRequest) (mining.JobResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitted = append(m.admitted, req)
	return m.result, nil
}

func (m *fakeMiner) Status() mining.Status { return mining.Status{Generation: 3} }

func (m *fakeMiner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admitted)
}

func newTestServer(t *testing.T, miner Miner, mutate func(*Config, *Options)) *Server {
	t.Helper()
	config := DefaultConfig()
	opts := Options{
		Miner:      miner,
		Host:       fakeHost{cpus: 6, memory: 1 << 30},
		Limits:     Limits{ScratchSize: 16384, MemoryFraction: 0.5},
		OracleName: "drill",
	}
	if mutate != nil {
		mutate(&config, &opts)
	}
	s, err := NewServer(config, zaptest.NewLogger(t), opts)
	require.NoError(t, err)
	return s
}

func challengeHex(n int) string {
	return strings.Repeat("ab", n)
}

func doMine(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/mine", bytes.NewReader(data))
	req.RemoteAddr = "192.0.2.1:1234"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(DefaultConfig(), zaptest.NewLogger(t), Options{})
	assert.Error(t, err)
}

func TestMineValidation(t *testing.T) {
	tests := []struct {
		name   string
		req    MineRequest
		mutate func(*Config, *Options)
		code   string
		field  string
	}{
		{
			name:  "31 byte challenge",
			req:   MineRequest{Challenge: challengeHex(31), Threads: 1, EndNonce: 10},
			code:  "invalid_challenge",
			field: "challenge",
		},
		{
			name:  "33 byte challenge",
			req:   MineRequest{Challenge: challengeHex(33), Threads: 1, EndNonce: 10},
			code:  "invalid_challenge",
			field: "challenge",
		},
		{
			name:  "non hex challenge",
			req:   MineRequest{Challenge: strings.Repeat("zz", 32), Threads: 1, EndNonce: 10},
			code:  "invalid_challenge",
			field: "challenge",
		},
		{
			name:  "empty range",
			req:   MineRequest{Challenge: challengeHex(32), Threads: 1, StartNonce: 10, EndNonce: 10},
			code:  "invalid_range",
			field: "end_nonce",
		},
		{
			name:  "zero threads",
			req:   MineRequest{Challenge: challengeHex(32), Threads: 0, EndNonce: 10},
			code:  "invalid_threads",
			field: "threads",
		},
		{
			name:   "over thread cap",
			req:    MineRequest{Challenge: challengeHex(32), Threads: 8, EndNonce: 10},
			mutate: func(_ *Config, o *Options) { o.Limits.MaxThreads = 4 },
			code:   "too_many_threads",
			field:  "threads",
		},
		{
			name:   "unknown memory without cap",
			req:    MineRequest{Challenge: challengeHex(32), Threads: 1 << 40, EndNonce: 1 << 50},
			mutate: func(_ *Config, o *Options) { o.Host = fakeHost{cpus: 4, memory: 0} },
			code:   "too_many_threads",
			field:  "threads",
		},
		{
			name:   "unknown memory just over CPU count",
			req:    MineRequest{Challenge: challengeHex(32), Threads: 5, EndNonce: 100},
			mutate: func(_ *Config, o *Options) { o.Host = fakeHost{cpus: 4, memory: 0} },
			code:   "too_many_threads",
			field:  "threads",
		},
		{
			name:  "scratch does not fit",
			req:   MineRequest{Challenge: challengeHex(32), Threads: 1 << 20, EndNonce: 1 << 30},
			code:  "insufficient_memory",
			field: "threads",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			miner := &fakeMiner{}
			s := newTestServer(t, miner, tt.mutate)

			rr := doMine(t, s, tt.req)
			require.Equal(t, http.StatusBadRequest, rr.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.field, resp.Field)
			assert.Zero(t, miner.count(), "no job may be admitted")
		})
	}
}

func TestMineMalformedBody(t *testing.T) {
	miner := &fakeMiner{}
	s := newTestServer(t, miner, nil)

	req := httptest.NewRequest(http.MethodPost, "/mine", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, miner.count())
}

func TestMineUseMaxThreads(t *testing.T) {
	miner := &fakeMiner{}
	s := newTestServer(t, miner, nil)

	rr := doMine(t, s, MineRequest{Challenge: challengeHex(32), Threads: 0, UseMaxThreads: true, EndNonce: 100, CutoffTime: 5, MinDifficulty: 9})
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, 1, miner.count())
	job := miner.admitted[0]
	assert.Equal(t, uint64(6), job.Threads)
	assert.Equal(t, 5*time.Second, job.Cutoff)
	assert.Equal(t, uint32(9), job.MinDifficulty)
	assert.Equal(t, byte(0xab), job.Challenge[31])
}

func TestMineUnknownMemoryAllowsCPUCount(t *testing.T) {
	miner := &fakeMiner{}
	s := newTestServer(t, miner, func(_ *Config, o *Options) { o.Host = fakeHost{cpus: 4, memory: 0} })

	rr := doMine(t, s, MineRequest{Challenge: challengeHex(32), Threads: 4, EndNonce: 100})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, miner.count())
	assert.Equal(t, uint64(4), miner.admitted[0].Threads)
}

func TestMineResponseShape(t *testing.T) {
	var sol oracle.Solution
	for i := range sol.D {
		sol.D[i] = byte(i * 10)
	}
	sol.H[0] = 0x01
	miner := &fakeMiner{result: mining.JobResult{WorkerResult: mining.WorkerResult{Nonce: 77, Difficulty: 7, Solution: sol}}}
	s := newTestServer(t, miner, func(c *Config, _ *Options) { c.SourceURL = "https://example.org" })

	rr := doMine(t, s, MineRequest{Challenge: challengeHex(32), Threads: 2, EndNonce: 100})
	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.Equal(t, float64(77), raw["best_nonce"])
	assert.Equal(t, float64(7), raw["best_difficulty"])
	assert.Equal(t, "https://example.org", raw["url"])

	hashBytes, ok := raw["best_hash_bytes"].([]any)
	require.True(t, ok, "best_hash_bytes must be a JSON array")
	require.Len(t, hashBytes, oracle.DigestSize)
	assert.Equal(t, float64(150), hashBytes[15])

	decoded, err := base58.Decode(raw["best_hash"].(string))
	require.NoError(t, err)
	assert.Equal(t, sol.H[:], decoded)
}

func TestMineEndToEnd(t *testing.T) {
	drill := oracle.DefaultDrill()
	cfg := mining.DefaultConfig()
	pool := mining.NewPool(zaptest.NewLogger(t), drill, cfg)
	ctrl := mining.NewController(zaptest.NewLogger(t), pool, cfg.GracePeriod)

	s := newTestServer(t, ctrl, nil)
	rr := doMine(t, s, MineRequest{Challenge: challengeHex(32), Threads: 4, StartNonce: 0, EndNonce: 1000, CutoffTime: 0, MinDifficulty: 0})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp MineResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Less(t, resp.BestNonce, uint64(1000))
	assert.Len(t, resp.BestHashBytes, oracle.DigestSize)
	assert.Equal(t, DefaultConfig().SourceURL, resp.URL)
}

func TestMineRateLimited(t *testing.T) {
	miner := &fakeMiner{}
	s := newTestServer(t, miner, func(c *Config, _ *Options) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	body := MineRequest{Challenge: challengeHex(32), Threads: 1, EndNonce: 10}
	assert.Equal(t, http.StatusOK, doMine(t, s, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doMine(t, s, body).Code)
	assert.Equal(t, 1, miner.count())
}

func TestMineMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeMiner{}, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/mine", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(t, &fakeMiner{}, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Success bool       `json:"success"`
		Data    StatusData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(3), resp.Data.Job.Generation)
	assert.Equal(t, 6, resp.Data.Host.LogicalCPUs)
	assert.Equal(t, "drill", resp.Data.Oracle)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, &fakeMiner{}, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	generated := rr.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(RequestIDHeader, "client-7")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "client-7", rr.Header().Get(RequestIDHeader))
}

func TestWebSocketStreamsJobEvents(t *testing.T) {
	s := newTestServer(t, &fakeMiner{}, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(s.Hub().Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	s.Hub().JobStarted("job-1", mining.JobRequest{Threads: 2, Cutoff: 3 * time.Second, EndNonce: 10})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Type  string         `json:"type"`
		JobID string         `json:"job_id"`
		Data  JobStartedData `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "job_started", event.Type)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, uint64(3), event.Data.CutoffSeconds)
}

func TestByteListJSON(t *testing.T) {
	data, err := json.Marshal(ByteList{0, 1, 255})
	require.NoError(t, err)
	assert.Equal(t, "[0,1,255]", string(data))

	var b ByteList
	require.NoError(t, json.Unmarshal([]byte("[3,4]"), &b))
	assert.Equal(t, ByteList{3, 4}, b)
	assert.Error(t, json.Unmarshal([]byte("[256]"), &b))
}
