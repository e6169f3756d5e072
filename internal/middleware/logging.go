package middleware

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	reqcontext "github.com/prajwalbharadwajbm/bidbeacon/internal/context"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/service"
)

// loggingMiddleware implements logging middleware for AdService
type loggingMiddleware struct {
	logger log.Logger
	next   service.AdService
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger log.Logger) func(service.AdService) service.AdService {
	return func(next service.AdService) service.AdService {
		return &loggingMiddleware{
			logger: logger,
			next:   next,
		}
	}
}

// requestFields returns the request context fields for a log line
func requestFields(ctx context.Context, method string, begin time.Time) []interface{} {
	info := reqcontext.GetRequestInfo(ctx)
	fields := []interface{}{
		"method", method,
		"request_id", info.ID,
		"took", time.Since(begin),
	}
	if info.UserAgent != "" {
		fields = append(fields, "user_agent", info.UserAgent)
	}
	if info.RemoteAddr != "" {
		fields = append(fields, "remote_addr", info.RemoteAddr)
	}
	return fields
}

// logResult logs at info on success and at warn on failure
func logResult(logger log.Logger, fields []interface{}, err error) {
	if err != nil {
		fields = append(fields, "error", err.Error(), "success", false)
		level.Warn(logger).Log(fields...)
		return
	}
	fields = append(fields, "success", true)
	level.Info(logger).Log(fields...)
}

func (mw *loggingMiddleware) RunAuction(ctx context.Context, actx models.AuctionContext, slots int) (result models.AuctionResult, err error) {
	defer func(begin time.Time) {
		fields := requestFields(ctx, "RunAuction", begin)
		fields = append(fields,
			"query", actx.Query,
			"category", actx.Category,
			"product_id", actx.ProductID,
			"placement", actx.Placement,
			"slots", slots,
			"winners", len(result),
		)
		logResult(mw.logger, fields, err)
	}(time.Now())

	return mw.next.RunAuction(ctx, actx, slots)
}

func (mw *loggingMiddleware) RecordImpression(ctx context.Context, imp models.Impression) (id string, err error) {
	defer func(begin time.Time) {
		fields := requestFields(ctx, "RecordImpression", begin)
		fields = append(fields, "bid_id", imp.BidID, "event_id", id)
		logResult(mw.logger, fields, err)
	}(time.Now())

	return mw.next.RecordImpression(ctx, imp)
}

func (mw *loggingMiddleware) RecordClick(ctx context.Context, click models.Click) (res models.ClickResult, err error) {
	defer func(begin time.Time) {
		fields := requestFields(ctx, "RecordClick", begin)
		fields = append(fields,
			"click_id", click.ClickID,
			"bid_id", click.BidID,
			"price", click.Price.String(),
			"charge_status", res.ChargeStatus,
			"duplicate", res.Duplicate,
		)
		logResult(mw.logger, fields, err)
	}(time.Now())

	return mw.next.RecordClick(ctx, click)
}

func (mw *loggingMiddleware) RecordConversion(ctx context.Context, conv models.Conversion) (id string, err error) {
	defer func(begin time.Time) {
		fields := requestFields(ctx, "RecordConversion", begin)
		fields = append(fields, "bid_id", conv.BidID, "order_value", conv.OrderValue.String(), "event_id", id)
		logResult(mw.logger, fields, err)
	}(time.Now())

	return mw.next.RecordConversion(ctx, conv)
}

// lifecycleLogging implements logging middleware for LifecycleService.
// Reads are not logged.
type lifecycleLogging struct {
	service.LifecycleService
	logger log.Logger
}

// NewLifecycleLoggingMiddleware creates a logging middleware for campaign
// and bid management
func NewLifecycleLoggingMiddleware(logger log.Logger) func(service.LifecycleService) service.LifecycleService {
	return func(next service.LifecycleService) service.LifecycleService {
		return &lifecycleLogging{LifecycleService: next, logger: logger}
	}
}

func (mw *lifecycleLogging) CreateCampaign(ctx context.Context, c models.Campaign) (created models.Campaign, err error) {
	defer func(begin time.Time) {
		logResult(mw.logger, append(requestFields(ctx, "CreateCampaign", begin), "campaign_id", created.ID, "owner_id", c.OwnerID), err)
	}(time.Now())
	return mw.LifecycleService.CreateCampaign(ctx, c)
}

func (mw *lifecycleLogging) PauseCampaign(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		logResult(mw.logger, append(requestFields(ctx, "PauseCampaign", begin), "campaign_id", id), err)
	}(time.Now())
	return mw.LifecycleService.PauseCampaign(ctx, id)
}

func (mw *lifecycleLogging) ResumeCampaign(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		logResult(mw.logger, append(requestFields(ctx, "ResumeCampaign", begin), "campaign_id", id), err)
	}(time.Now())
	return mw.LifecycleService.ResumeCampaign(ctx, id)
}

func (mw *lifecycleLogging) DeleteCampaign(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		logResult(mw.logger, append(requestFields(ctx, "DeleteCampaign", begin), "campaign_id", id), err)
	}(time.Now())
	return mw.LifecycleService.DeleteCampaign(ctx, id)
}

func (mw *lifecycleLogging) UpsertBid(ctx context.Context, b models.Bid) (stored models.Bid, err error) {
	defer func(begin time.Time) {
		logResult(mw.logger, append(requestFields(ctx, "UpsertBid", begin), "bid_id", stored.ID, "campaign_id", b.CampaignID), err)
	}(time.Now())
	return mw.LifecycleService.UpsertBid(ctx, b)
}

func (mw *lifecycleLogging) SetBidStatus(ctx context.Context, id string, status models.BidStatus) (err error) {
	defer func(begin time.Time) {
		logResult(mw.logger, append(requestFields(ctx, "SetBidStatus", begin), "bid_id", id, "status", status), err)
	}(time.Now())
	return mw.LifecycleService.SetBidStatus(ctx, id, status)
}
