package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/smartdevs17/web3rsvp-indexer/internal/contract"
	"github.com/smartdevs17/web3rsvp-indexer/internal/mapping"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	contractAddress = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	eventID         = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000e1")
	organizer       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	guest           = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// fakeChain serves a fixed set of logs and a movable head
type fakeChain struct {
	mu          sync.Mutex
	head        uint64
	logs        []types.Log
	headErr     error
	filterCalls int
	queries     []ethereum.FilterQuery
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.headErr
}

func (c *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterCalls++
	c.queries = append(c.queries, q)

	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber >= q.FromBlock.Uint64() && log.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, log)
		}
	}
	return out, nil
}

func (c *fakeChain) HealthCheck(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headErr
}

type noMetadata struct{}

func (noMetadata) Cat(context.Context, string) ([]byte, error) {
	return nil, errors.New("offline")
}

// failingHandler fails every log at or after failAt
type failingHandler struct {
	inner  LogHandler
	failAt uint64
}

func (h failingHandler) HandleLog(ctx context.Context, store storage.Entities, decoded interface{}) error {
	if rsvp, ok := decoded.(*contract.NewRSVP); ok && rsvp.Raw.BlockNumber >= h.failAt {
		return utils.NewAppError(utils.ErrCodeDatabase, "disk full", "")
	}
	return h.inner.HandleLog(ctx, store, decoded)
}

func newDecoder(t *testing.T) *contract.Decoder {
	t.Helper()
	decoder, err := contract.NewDecoder()
	require.NoError(t, err)
	return decoder
}

func chainLog(t *testing.T, decoder *contract.Decoder, block uint64, index uint, name string, args ...interface{}) types.Log {
	t.Helper()
	log, err := decoder.EncodeLog(name, args...)
	require.NoError(t, err)
	log.Address = contractAddress
	log.BlockNumber = block
	log.Index = index
	log.TxHash = common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index)))
	return log
}

func scenarioLogs(t *testing.T, decoder *contract.Decoder) []types.Log {
	created := chainLog(t, decoder, 10, 0, contract.EventNewEventCreated,
		eventID, organizer, big.NewInt(1700000000), big.NewInt(20), big.NewInt(5000), "QmCID")
	rsvp := chainLog(t, decoder, 12, 3, contract.EventNewRSVP, eventID, guest)
	confirm := chainLog(t, decoder, 12, 5, contract.EventConfirmedAttendee, eventID, guest)
	payout := chainLog(t, decoder, 14, 0, contract.EventDepositsPaidOut, eventID)

	removed := chainLog(t, decoder, 14, 1, contract.EventNewRSVP, eventID, organizer)
	removed.Removed = true

	unknown := types.Log{
		Address:     contractAddress,
		BlockNumber: 12,
		Index:       4,
		Topics:      []common.Hash{common.HexToHash("0xdead")},
	}

	// out of order on purpose
	return []types.Log{payout, confirm, unknown, removed, rsvp, created}
}

func newTestIndexer(t *testing.T, chain ChainReader, handler LogHandler) (*Indexer, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Connect())

	decoder := newDecoder(t)
	if handler == nil {
		handler = mapping.NewHandlers(noMetadata{})
	}

	ix := NewIndexer(chain, store, decoder, handler, &Config{
		ContractAddress:    contractAddress,
		PollInterval:       10 * time.Millisecond,
		BatchSize:          10,
		ConfirmationBlocks: 2,
	})
	return ix, store
}

func TestProcessBlockRange(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 100, logs: scenarioLogs(t, newDecoder(t))}
	ix, store := newTestIndexer(t, chain, nil)
	ix.SetMetricsManager(metrics.NewManager())

	result, err := ix.ProcessBlockRange(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, result.BlocksProcessed)
	assert.Equal(t, 6, result.LogsFound)
	assert.Equal(t, 4, result.LogsHandled)
	assert.Equal(t, 2, result.LogsSkipped)

	require.Len(t, chain.queries, 1)
	q := chain.queries[0]
	assert.Equal(t, []common.Address{contractAddress}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Len(t, q.Topics[0], 4)

	event, err := store.LoadEvent(ctx, models.EventKey(eventID))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.PaidOut)
	assert.Equal(t, uint64(1), event.TotalRSVPs)
	assert.Equal(t, uint64(1), event.TotalConfirmedAttendees)
	assert.Nil(t, event.ImageURL)

	// the removed log never reached the handlers
	account, err := store.LoadAccount(ctx, models.AccountKey(organizer))
	require.NoError(t, err)
	assert.Nil(t, account)

	cursor, err := store.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cursor)

	stats := ix.GetStats()
	assert.Equal(t, uint64(20), stats.LatestProcessedBlock)
	assert.Equal(t, uint64(4), stats.TotalLogsHandled)
	assert.Equal(t, uint64(2), stats.TotalLogsSkipped)
}

func TestProcessBlockRangeReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 100, logs: scenarioLogs(t, newDecoder(t))}
	ix, store := newTestIndexer(t, chain, nil)

	_, err := ix.ProcessBlockRange(ctx, 1, 20)
	require.NoError(t, err)
	_, err = ix.ProcessBlockRange(ctx, 1, 20)
	require.NoError(t, err)

	event, err := store.LoadEvent(ctx, models.EventKey(eventID))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), event.TotalRSVPs)
	assert.Equal(t, uint64(1), event.TotalConfirmedAttendees)

	account, err := store.LoadAccount(ctx, models.AccountKey(guest))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), account.TotalRSVPs)
	assert.Equal(t, uint64(1), account.TotalAttendedEvents)
}

func TestCursorNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 100, logs: scenarioLogs(t, newDecoder(t))}
	ix, store := newTestIndexer(t, chain, nil)
	require.NoError(t, store.SetLatestProcessedBlock(ctx, 50))

	_, err := ix.ProcessBlockRange(ctx, 1, 20)
	require.NoError(t, err)

	cursor, err := store.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cursor)
}

func TestHandlerErrorAbortsBatch(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 100, logs: scenarioLogs(t, newDecoder(t))}
	ix, store := newTestIndexer(t, chain, failingHandler{
		inner:  mapping.NewHandlers(noMetadata{}),
		failAt: 12,
	})

	_, err := ix.ProcessBlockRange(ctx, 1, 20)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeDatabase))

	// block 10 committed, block 12 rolled back as a whole
	cursor, err := store.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cursor)

	event, err := store.LoadEvent(ctx, models.EventKey(eventID))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Zero(t, event.TotalRSVPs)
	assert.Zero(t, event.TotalConfirmedAttendees)
}

func TestProcessBlockRangeRejectsInvertedRange(t *testing.T) {
	ix, _ := newTestIndexer(t, &fakeChain{}, nil)
	_, err := ix.ProcessBlockRange(context.Background(), 10, 5)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
}

func TestNextRange(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 1}
	ix, store := newTestIndexer(t, chain, nil)

	// head below the confirmation depth
	from, to, _, err := ix.nextRange(ctx)
	require.NoError(t, err)
	assert.Less(t, to, from)

	chain.head = 30
	ix.config.StartBlock = 5
	from, to, behind, err := ix.nextRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), from)
	assert.Equal(t, uint64(14), to)
	assert.Equal(t, uint64(14), behind)

	require.NoError(t, store.SetLatestProcessedBlock(ctx, 25))
	from, to, behind, err = ix.nextRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(26), from)
	assert.Equal(t, uint64(28), to)
	assert.Zero(t, behind)

	require.NoError(t, store.SetLatestProcessedBlock(ctx, 28))
	from, to, _, err = ix.nextRange(ctx)
	require.NoError(t, err)
	assert.Less(t, to, from)
}

func TestNextRangeIncludesGenesis(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 30}
	ix, store := newTestIndexer(t, chain, nil)
	ix.config.StartBlock = 0

	from, to, _, err := ix.nextRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), from)
	assert.Equal(t, uint64(9), to)

	_, err = ix.ProcessBlockRange(ctx, from, to)
	require.NoError(t, err)

	cursor, err := store.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cursor)

	from, _, _, err = ix.nextRange(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), from)
}

func TestStartStop(t *testing.T) {
	chain := &fakeChain{head: 40, logs: scenarioLogs(t, newDecoder(t))}
	ix, store := newTestIndexer(t, chain, nil)

	require.NoError(t, ix.Start(context.Background()))
	assert.True(t, ix.IsRunning())
	assert.Error(t, ix.Start(context.Background()))

	require.Eventually(t, func() bool {
		cursor, err := store.GetLatestProcessedBlock(context.Background())
		return err == nil && cursor == 38
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ix.Stop())
	assert.False(t, ix.IsRunning())
	require.NoError(t, ix.Stop())

	event, err := store.LoadEvent(context.Background(), models.EventKey(eventID))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.PaidOut)
}

func TestContextCancelStopsLoop(t *testing.T) {
	chain := &fakeChain{head: 5}
	ix, _ := newTestIndexer(t, chain, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ix.Start(ctx))
	cancel()

	// Stop still waits for the loop to observe the cancellation
	require.NoError(t, ix.Stop())
}

func TestGetHealth(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{head: 100}
	ix, store := newTestIndexer(t, chain, nil)

	_, _, _, err := ix.nextRange(ctx)
	require.NoError(t, err)

	health := ix.GetHealth(ctx)
	assert.True(t, health.ConnectionHealthy)
	assert.True(t, health.StorageHealthy)
	assert.Equal(t, uint64(98), health.BlocksBehind)
	assert.True(t, health.Healthy)

	chain.headErr = errors.New("node down")
	ix.recordError(chain.headErr)
	require.NoError(t, store.Close())

	health = ix.GetHealth(ctx)
	assert.False(t, health.Healthy)
	assert.False(t, health.ConnectionHealthy)
	assert.False(t, health.StorageHealthy)
	assert.Len(t, health.Issues, 3)
}
