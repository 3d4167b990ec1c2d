package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/tithi/internal/audit/domain"
	auditservice "github.com/smallbiznis/tithi/internal/audit/service"
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/tithi/internal/booking/repository"
	bookingservice "github.com/smallbiznis/tithi/internal/booking/service"
	businessdomain "github.com/smallbiznis/tithi/internal/business/domain"
	"github.com/smallbiznis/tithi/internal/clock"
	"github.com/smallbiznis/tithi/internal/config"
	customerdomain "github.com/smallbiznis/tithi/internal/customer/domain"
	"github.com/smallbiznis/tithi/internal/dispatcher"
	giftcarddomain "github.com/smallbiznis/tithi/internal/giftcard/domain"
	giftcardservice "github.com/smallbiznis/tithi/internal/giftcard/service"
	"github.com/smallbiznis/tithi/internal/idempotency"
	notificationdomain "github.com/smallbiznis/tithi/internal/notification/domain"
	notificationservice "github.com/smallbiznis/tithi/internal/notification/service"
	paymentdomain "github.com/smallbiznis/tithi/internal/payment/domain"
	"github.com/smallbiznis/tithi/internal/providers/email"
	"github.com/smallbiznis/tithi/internal/providers/sms"
	"github.com/smallbiznis/tithi/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testDispatchToken = "dispatch-secret"

type fakeProcessor struct {
	chargeCalls  int
	chargeResult *paymentdomain.ChargeResult
	refundCalls  int
}

func (f *fakeProcessor) CreateCharge(context.Context, paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	f.chargeCalls++
	if f.chargeResult != nil {
		return f.chargeResult, nil
	}
	return &paymentdomain.ChargeResult{
		ChargeRef: "pi_test",
		Status:    paymentdomain.ChargeStatusSucceeded,
	}, nil
}

func (f *fakeProcessor) CreateRefund(context.Context, string) (*paymentdomain.RefundResult, error) {
	f.refundCalls++
	return &paymentdomain.RefundResult{RefundRef: "re_test"}, nil
}

func (f *fakeProcessor) ResolvePaymentMethod(context.Context, string) (string, error) {
	return "", nil
}

var testDBSeq int

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	proc   *fakeProcessor
	engine *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:server_%s_%d?mode=memory&cache=shared", t.Name(), testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&businessdomain.Business{},
		&customerdomain.Customer{},
		&giftcarddomain.GiftCard{},
		&giftcarddomain.LedgerEntry{},
		&bookingdomain.Booking{},
		&bookingdomain.BookingPayment{},
		&notificationdomain.Job{},
		&auditdomain.AuditLog{},
		&idempotency.Record{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	proc := &fakeProcessor{}
	log := zap.NewNop()
	cfg := config.Config{
		PlatformFeeBPS: 100,
		DispatchToken:  testDispatchToken,
	}

	auditSvc := auditservice.New(auditservice.Params{DB: db, Log: log, GenID: node})
	giftcardSvc := giftcardservice.New(giftcardservice.Params{DB: db, Log: log, GenID: node, Clock: fakeClock})
	notificationSvc := notificationservice.New(notificationservice.Params{
		DB: db, Log: log, GenID: node, Clock: fakeClock,
	})
	bookingSvc := bookingservice.New(bookingservice.Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           fakeClock,
		Cfg:             cfg,
		Repo:            bookingrepo.Provide(),
		Processor:       proc,
		GiftCardSvc:     giftcardSvc,
		NotificationSvc: notificationSvc,
		AuditSvc:        auditSvc,
	})
	idemSvc := idempotency.NewService(idempotency.Params{DB: db, Log: log, GenID: node})
	disp := dispatcher.New(dispatcher.Params{
		DB:       db,
		Log:      log,
		Clock:    fakeClock,
		Cfg:      cfg,
		Email:    email.NoOpProvider{},
		SMS:      sms.NoOpProvider{},
		AuditSvc: auditSvc,
	})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(server.ErrorHandlingMiddleware())

	server.NewServer(server.ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		DB:          db,
		Log:         log,
		GenID:       node,
		BookingSvc:  bookingSvc,
		GiftCardSvc: giftcardSvc,
		IdemSvc:     idemSvc,
		AuditSvc:    auditSvc,
		Dispatcher:  disp,
	})

	return &fixture{db: db, node: node, proc: proc, engine: engine}
}

func (f *fixture) seedBooking(t *testing.T, finalPriceCents int64) *bookingdomain.Booking {
	t.Helper()
	business := businessdomain.Business{
		ID:              f.node.Generate(),
		Name:            "Glow Studio",
		StripeAccountID: "acct_test",
	}
	require.NoError(t, f.db.Create(&business).Error)

	customer := customerdomain.Customer{
		ID:               f.node.Generate(),
		BusinessID:       business.ID,
		Name:             "Dana",
		Email:            "dana@example.com",
		StripeCustomerID: "cus_test",
		PaymentMethodRef: "pm_test",
	}
	require.NoError(t, f.db.Create(&customer).Error)

	snapJSON, err := json.Marshal(bookingdomain.PolicySnapshot{
		NoShowFeeType:        bookingdomain.FeeTypeAmount,
		NoShowFeeAmountCents: 2500,
	})
	require.NoError(t, err)

	booking := bookingdomain.Booking{
		ID:              f.node.Generate(),
		BusinessID:      business.ID,
		CustomerID:      customer.ID,
		Status:          bookingdomain.BookingStatusPending,
		PriceCents:      finalPriceCents,
		FinalPriceCents: finalPriceCents,
		PolicySnapshot:  datatypes.JSON(snapJSON),
		PaymentStatus:   bookingdomain.PaymentStatusCardSaved,
		LastMoneyAction: bookingdomain.MoneyActionNone,
		StartsAt:        time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.db.Create(&booking).Error)
	return &booking
}

type requestOpts struct {
	businessID string
	idemKey    string
	body       string
	headers    map[string]string
}

func (f *fixture) do(method, path string, opts requestOpts) *httptest.ResponseRecorder {
	var req *http.Request
	if opts.body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(opts.body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if opts.businessID != "" {
		req.Header.Set(server.HeaderBusiness, opts.businessID)
	}
	if opts.idemKey != "" {
		req.Header.Set(idempotency.Header, opts.idemKey)
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestCompleteEndpointChargesAndReplays(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(t, 10000)
	path := fmt.Sprintf("/v1/bookings/%s/complete", booking.ID)

	first := f.do(http.MethodPost, path, requestOpts{
		businessID: booking.BusinessID.String(),
		idemKey:    "key-1",
	})
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	var result bookingdomain.ActionResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &result))
	assert.Equal(t, bookingdomain.ResultCharged, result.Status)
	assert.Equal(t, int64(10000), result.ChargeAmountCents)

	// Retransmission replays the stored response without charging again.
	second := f.do(http.MethodPost, path, requestOpts{
		businessID: booking.BusinessID.String(),
		idemKey:    "key-1",
	})
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.proc.chargeCalls)
}

func TestActionRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(t, 10000)

	w := f.do(http.MethodPost, fmt.Sprintf("/v1/bookings/%s/complete", booking.ID), requestOpts{
		businessID: booking.BusinessID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), idempotency.Header)
	assert.Zero(t, f.proc.chargeCalls)
}

func TestMissingBusinessHeaderRejected(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(t, 10000)

	w := f.do(http.MethodPost, fmt.Sprintf("/v1/bookings/%s/complete", booking.ID), requestOpts{
		idemKey: "key-1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeclineReturnsPaymentRequired(t *testing.T) {
	f := newFixture(t)
	f.proc.chargeResult = &paymentdomain.ChargeResult{
		ChargeRef: "pi_declined",
		Status:    paymentdomain.ChargeStatusFailed,
	}
	booking := f.seedBooking(t, 10000)
	path := fmt.Sprintf("/v1/bookings/%s/no-show", booking.ID)

	first := f.do(http.MethodPost, path, requestOpts{
		businessID: booking.BusinessID.String(),
		idemKey:    "key-1",
	})
	assert.Equal(t, http.StatusPaymentRequired, first.Code)
	assert.Contains(t, first.Body.String(), "Payment failed")

	// The decline is a terminal outcome for this key and replays as-is.
	second := f.do(http.MethodPost, path, requestOpts{
		businessID: booking.BusinessID.String(),
		idemKey:    "key-1",
	})
	assert.Equal(t, http.StatusPaymentRequired, second.Code)
	assert.Equal(t, 1, f.proc.chargeCalls)
}

func TestRefundWithoutChargeReturnsBadRequest(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(t, 10000)

	w := f.do(http.MethodPost, fmt.Sprintf("/v1/bookings/%s/refund", booking.ID), requestOpts{
		businessID: booking.BusinessID.String(),
		idemKey:    "key-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), bookingdomain.ResultNoCharge)
	assert.Contains(t, w.Body.String(), `"refund_amount":0`)
	assert.Zero(t, f.proc.refundCalls)
}

func TestUnknownBookingReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	booking := f.seedBooking(t, 10000)

	w := f.do(http.MethodPost, fmt.Sprintf("/v1/bookings/%s/cancel", f.node.Generate()), requestOpts{
		businessID: booking.BusinessID.String(),
		idemKey:    "key-1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Booking not found")
}

func TestGiftCardLookupAndAdjust(t *testing.T) {
	f := newFixture(t)
	businessID := f.node.Generate()
	card := giftcarddomain.GiftCard{
		ID:                  f.node.Generate(),
		BusinessID:          businessID,
		Code:                "GC-100",
		DiscountType:        giftcarddomain.DiscountTypeAmount,
		InitialAmountCents:  10000,
		CurrentBalanceCents: 10000,
		IsActive:            true,
	}
	require.NoError(t, f.db.Create(&card).Error)

	w := f.do(http.MethodGet, "/v1/gift-cards/GC-100", requestOpts{businessID: businessID.String()})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "GC-100")

	w = f.do(http.MethodPost, "/v1/gift-cards/GC-100/adjust", requestOpts{
		businessID: businessID.String(),
		idemKey:    "key-1",
		body:       `{"delta_cents": -2500}`,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_balance_cents":7500`)

	w = f.do(http.MethodGet, "/v1/gift-cards/GC-404", requestOpts{businessID: businessID.String()})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDispatchRequiresToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/internal/notifications/dispatch", requestOpts{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/v1/internal/notifications/dispatch", requestOpts{
		headers: map[string]string{server.HeaderDispatchToken: "wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDispatchRunsPass(t *testing.T) {
	f := newFixture(t)
	businessID := f.node.Generate()
	require.NoError(t, f.db.Create(&notificationdomain.Job{
		ID:          f.node.Generate(),
		BusinessID:  businessID,
		Channel:     notificationdomain.ChannelEmail,
		Recipient:   "dana@example.com",
		Subject:     "Hello",
		Body:        "World",
		Status:      notificationdomain.JobStatusPending,
		ScheduledAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}).Error)

	w := f.do(http.MethodPost, "/v1/internal/notifications/dispatch", requestOpts{
		headers: map[string]string{server.HeaderDispatchToken: testDispatchToken},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result dispatcher.PassResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Sent)
}
