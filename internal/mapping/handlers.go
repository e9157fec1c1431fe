// Package mapping turns decoded Web3RSVP logs into Account, Event, RSVP and
// Confirmation entities. Every handler is idempotent: replaying a log leaves
// the store unchanged.
package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/web3rsvp-indexer/internal/contract"
	"github.com/smartdevs17/web3rsvp-indexer/internal/ipfs"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// Handlers applies contract events to the entity store
type Handlers struct {
	fetcher        ipfs.Fetcher
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewHandlers creates handlers that read event metadata through fetcher
func NewHandlers(fetcher ipfs.Fetcher) *Handlers {
	return &Handlers{
		fetcher: fetcher,
		logger:  utils.ComponentLogger("mapping"),
	}
}

// SetMetricsManager sets the metrics manager for per-log metrics
func (h *Handlers) SetMetricsManager(metricsManager *metrics.Manager) {
	h.metricsManager = metricsManager
}

// HandleLog dispatches a value returned by contract.Decoder.Decode
func (h *Handlers) HandleLog(ctx context.Context, store storage.Entities, decoded interface{}) error {
	start := time.Now()

	var (
		eventName string
		err       error
	)
	switch ev := decoded.(type) {
	case *contract.NewEventCreated:
		eventName = contract.EventNewEventCreated
		err = h.HandleNewEventCreated(ctx, store, ev)
	case *contract.NewRSVP:
		eventName = contract.EventNewRSVP
		err = h.HandleNewRSVP(ctx, store, ev)
	case *contract.ConfirmedAttendee:
		eventName = contract.EventConfirmedAttendee
		err = h.HandleConfirmedAttendee(ctx, store, ev)
	case *contract.DepositsPaidOut:
		eventName = contract.EventDepositsPaidOut
		err = h.HandleDepositsPaidOut(ctx, store, ev)
	default:
		return utils.NewAppError(utils.ErrCodeDecoding, "Unsupported event type", fmt.Sprintf("%T", decoded))
	}

	if h.metricsManager != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		h.metricsManager.GetPrometheusMetrics().RecordLogHandled(eventName, outcome, time.Since(start))
	}

	return err
}

// HandleNewEventCreated creates the Event once, enriched with whatever
// metadata could be read from IPFS
func (h *Handlers) HandleNewEventCreated(ctx context.Context, store storage.Entities, ev *contract.NewEventCreated) error {
	id := models.EventKey(ev.EventID)

	existing, err := store.LoadEvent(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		h.logger.WithField("event", id).Debug("Event already exists")
		return nil
	}

	event := &models.Event{
		ID:             id,
		EventOwner:     models.AccountKey(ev.CreatorAddress),
		EventTimestamp: models.NewBigInt(ev.EventTimestamp),
		MaxCapacity:    models.NewBigInt(ev.MaxCapacity),
		Deposit:        models.NewBigInt(ev.Deposit),
	}
	h.applyMetadata(ctx, event, ev.EventDataCID)

	if err := store.SaveEvent(ctx, event); err != nil {
		h.logger.WithError(err).WithField("event", id).Error("Failed to save event")
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"event": id,
		"owner": event.EventOwner,
	}).Info("Event created")
	return nil
}

// applyMetadata copies the descriptive fields of <cid>/data.json onto event.
// Failures leave the fields unset.
func (h *Handlers) applyMetadata(ctx context.Context, event *models.Event, cid string) {
	logger := h.logger.WithFields(logrus.Fields{"event": event.ID, "cid": cid})

	data, err := h.fetcher.Cat(ctx, ipfs.MetadataPath(cid))
	if err != nil {
		logger.WithError(err).Warn("Failed to fetch event metadata")
		return
	}

	metadata, ok := ipfs.ParseMetadata(data)
	if !ok {
		logger.Warn("Event metadata is not a JSON object")
		return
	}

	event.Name = metadata.Name
	event.Description = metadata.Description
	event.Link = metadata.Link
	imageURL := ipfs.ImageURL(cid, metadata.Image)
	event.ImageURL = &imageURL
}

// HandleNewRSVP records an attendee's RSVP and bumps both RSVP counters
func (h *Handlers) HandleNewRSVP(ctx context.Context, store storage.Entities, ev *contract.NewRSVP) error {
	id := models.PairKey(ev.EventID, ev.AttendeeAddress)
	logger := h.logger.WithField("rsvp", id)

	account, err := h.getOrCreateAccount(ctx, store, ev.AttendeeAddress)
	if err != nil {
		return err
	}

	event, err := store.LoadEvent(ctx, models.EventKey(ev.EventID))
	if err != nil {
		return err
	}
	if event == nil {
		logger.Debug("RSVP for unknown event ignored")
		return nil
	}

	existing, err := store.LoadRSVP(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Debug("RSVP already recorded")
		return nil
	}

	rsvp := &models.RSVP{ID: id, Attendee: account.ID, Event: event.ID}
	if err := store.SaveRSVP(ctx, rsvp); err != nil {
		return err
	}

	event.TotalRSVPs++
	if err := store.SaveEvent(ctx, event); err != nil {
		return err
	}

	account.TotalRSVPs++
	if err := store.SaveAccount(ctx, account); err != nil {
		return err
	}

	logger.Debug("RSVP recorded")
	return nil
}

// HandleConfirmedAttendee records attendance. An earlier RSVP is not required.
func (h *Handlers) HandleConfirmedAttendee(ctx context.Context, store storage.Entities, ev *contract.ConfirmedAttendee) error {
	id := models.PairKey(ev.EventID, ev.AttendeeAddress)
	logger := h.logger.WithField("confirmation", id)

	account, err := h.getOrCreateAccount(ctx, store, ev.AttendeeAddress)
	if err != nil {
		return err
	}

	event, err := store.LoadEvent(ctx, models.EventKey(ev.EventID))
	if err != nil {
		return err
	}
	if event == nil {
		logger.Debug("Confirmation for unknown event ignored")
		return nil
	}

	existing, err := store.LoadConfirmation(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Debug("Confirmation already recorded")
		return nil
	}

	confirmation := &models.Confirmation{ID: id, Attendee: account.ID, Event: event.ID}
	if err := store.SaveConfirmation(ctx, confirmation); err != nil {
		return err
	}

	event.TotalConfirmedAttendees++
	if err := store.SaveEvent(ctx, event); err != nil {
		return err
	}

	account.TotalAttendedEvents++
	if err := store.SaveAccount(ctx, account); err != nil {
		return err
	}

	logger.Debug("Confirmation recorded")
	return nil
}

// HandleDepositsPaidOut marks the event as paid out
func (h *Handlers) HandleDepositsPaidOut(ctx context.Context, store storage.Entities, ev *contract.DepositsPaidOut) error {
	id := models.EventKey(ev.EventID)

	event, err := store.LoadEvent(ctx, id)
	if err != nil {
		return err
	}
	if event == nil {
		h.logger.WithField("event", id).Debug("Payout for unknown event ignored")
		return nil
	}

	event.PaidOut = true
	if err := store.SaveEvent(ctx, event); err != nil {
		return err
	}

	h.logger.WithField("event", id).Info("Deposits paid out")
	return nil
}

func (h *Handlers) getOrCreateAccount(ctx context.Context, store storage.Entities, address common.Address) (*models.Account, error) {
	id := models.AccountKey(address)

	account, err := store.LoadAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account = &models.Account{ID: id}
	if err := store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
