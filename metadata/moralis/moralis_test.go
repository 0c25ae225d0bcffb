package moralis

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/provider"
)

func testKey() metadata.Key {
	return metadata.Key{
		Address: common.HexToAddress("0xED5AF388653567Af2F388E6224dC7C4b3241C544"),
		Chain:   chain.Ethereum,
	}
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "k"}, nil)
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "https://deep-index.moralis.io/api/v2.2"}, nil)
	assert.Error(t, err)
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "eth", r.URL.Query().Get("chain"))
		assert.Contains(t, r.URL.Path, "0xED5AF388653567Af2F388E6224dC7C4b3241C544")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[{
			"token_address":"0xed5af388653567af2f388e6224dc7c4b3241c544",
			"token_id":"1",
			"contract_type":"ERC721",
			"token_hash":"abc123",
			"name":"Azuki",
			"symbol":"AZUKI"
		}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	m, ok, err := c.Fetch(context.Background(), testKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Azuki", m.Name)
	assert.Equal(t, "AZUKI", m.Symbol)
	assert.Equal(t, metadata.TypeERC721, m.ContractType)
	assert.Equal(t, testKey().Address, m.Address)
	assert.Equal(t, "abc123", m.Extra["token_hash"])
}

func TestFetch_NoData(t *testing.T) {
	t.Parallel()

	for name, handler := range map[string]http.HandlerFunc{
		"404": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"empty result": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result":[]}`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			m, ok, err := testClient(t, srv.URL).Fetch(context.Background(), testKey())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, m)
		})
	}
}

func TestFetch_ErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("chain") {
		case "eth":
			w.WriteHeader(http.StatusUnauthorized)
		case "polygon":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()
	c := testClient(t, srv.URL)

	_, _, err := c.Fetch(context.Background(), testKey())
	assert.ErrorIs(t, err, ErrUnauthorized)

	k := testKey()
	k.Chain = chain.Polygon
	_, _, err = c.Fetch(context.Background(), k)
	assert.ErrorIs(t, err, ErrRateLimited)

	k.Chain = chain.Base
	_, _, err = c.Fetch(context.Background(), k)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestHealthCheck_Mapping(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name       string
		code       int
		wantStatus provider.Status
		wantReason string
	}{
		{"ok", http.StatusOK, provider.StatusUp, ""},
		{"unauthorized", http.StatusUnauthorized, provider.StatusDown, "Authentication failed"},
		{"rate limited", http.StatusTooManyRequests, provider.StatusDegraded, "Rate limited"},
		{"server error", http.StatusServiceUnavailable, provider.StatusDegraded, "API returned status 503"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/info/endpointWeights", r.URL.Path)
				w.WriteHeader(tc.code)
			}))
			defer srv.Close()

			h, err := testClient(t, srv.URL).HealthCheck(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, h.Status)
			assert.Equal(t, tc.wantReason, h.Reason)
		})
	}
}

func TestHealthCheck_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := testClient(t, srv.URL).HealthCheck(context.Background())
	assert.Error(t, err)
}

func TestFetch_UnsupportedChain(t *testing.T) {
	t.Parallel()

	k := testKey()
	k.Chain = chain.ID(999)
	_, _, err := testClient(t, "http://unused.invalid").Fetch(context.Background(), k)
	assert.ErrorIs(t, err, chain.ErrUnsupported)
}

func TestChainSlugs(t *testing.T) {
	t.Parallel()

	want := map[chain.ID]string{
		chain.Ethereum:  "eth",
		chain.Polygon:   "polygon",
		chain.Base:      "base",
		chain.Arbitrum:  "arbitrum",
		chain.Avalanche: "avalanche",
	}
	for id, slug := range want {
		got, err := chainSlug(id)
		require.NoError(t, err)
		assert.Equal(t, slug, got)
	}
}
