package main

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaifufi/limit-order-go/ledger"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	defer setLogLevels(slog.LevelInfo)

	require.NoError(t, parseAndSetDebugLevels("debug"))
	assert.Equal(t, slog.LevelDebug, engnLog.Level())
	assert.Equal(t, slog.LevelDebug, log.Level())

	require.NoError(t, parseAndSetDebugLevels("ENGN=trace,SRVR=warn"))
	assert.Equal(t, slog.LevelTrace, engnLog.Level())
	assert.Equal(t, slog.LevelWarn, srvrLog.Level())
	assert.Equal(t, slog.LevelDebug, ldgrLog.Level())

	assert.Error(t, parseAndSetDebugLevels("loud"))
	assert.Error(t, parseAndSetDebugLevels("ENGN=loud"))
	assert.Error(t, parseAndSetDebugLevels("MTCH=info"))
	assert.Error(t, parseAndSetDebugLevels("ENGN=info,SRVR"))
}

func TestCleanAndExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "lopd"), cleanAndExpandPath("~/lopd"))
	assert.Equal(t, "/tmp/lopd", cleanAndExpandPath("/tmp//lopd/"))
	assert.Empty(t, cleanAndExpandPath(""))

	t.Setenv("LOPD_TEST_DIR", "/var/lib")
	assert.Equal(t, "/var/lib/lopd", cleanAndExpandPath("$LOPD_TEST_DIR/lopd"))
}

func TestDeploy(t *testing.T) {
	l, err := ledger.New(&ledger.Config{ChainID: big.NewInt(defaultChainID)})
	require.NoError(t, err)
	d := deploy(l, common.HexToAddress(defaultEngineAddr))
	require.Len(t, d.tokens, 2)

	for _, addr := range []common.Address{wethAddr, usdcAddr, daiAddr, collectibleAddr, itemsAddr, rangeGetterAddr, nftProxyAddr} {
		ok, err := l.HasCode(context.Background(), addr)
		require.NoError(t, err)
		assert.True(t, ok, addr.Hex())
	}
}
