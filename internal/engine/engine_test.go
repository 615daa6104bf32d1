package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/engine/auth"
	"bookline/internal/migrate"
	"bookline/internal/repo"
	"bookline/pkg/logging"
)

var (
	pro       = domain.Actor{ID: "pro-1", Role: domain.RoleProfessional}
	client    = domain.Actor{ID: "cli-1", Role: domain.RoleClient}
	otherCli  = domain.Actor{ID: "cli-2", Role: domain.RoleClient}
	secretary = domain.Actor{ID: "sec-1", Role: domain.RoleSecretary}
	dependent = domain.Actor{ID: "dep-1", Role: domain.RoleDependent}
	admin     = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
)

// Clock is fixed at 2024-03-01 09:00 UTC.
var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Scheduling.Timezone = "UTC"
	eng := engine.New(conn, cfg)
	eng.Logger = logging.Discard()
	eng.Now = func() time.Time { return testNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// fund gives the client credits through an accepted proposal.
func fund(t *testing.T, env testEnv, c domain.Actor, credits int) domain.Proposal {
	t.Helper()
	p, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{
		ProfessionalID:   pro.ID,
		ClientID:         c.ID,
		AgreedValueCents: 30000,
		CreditsOffered:   credits,
		Send:             true,
		Actor:            pro,
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	p, err = env.Engine.RespondProposal(env.Ctx, p.ID, true, c)
	if err != nil {
		t.Fatalf("accept proposal: %v", err)
	}
	return p
}

func book(env testEnv, c domain.Actor, date, clock string) (domain.Appointment, error) {
	return env.Engine.Book(env.Ctx, engine.BookOptions{ProfessionalID: pro.ID, Client: c, Date: date, Time: clock, Title: "Sessão"})
}

func balance(t *testing.T, env testEnv, c domain.Actor) domain.CreditBalance {
	t.Helper()
	b, err := env.Engine.Balance(env.Ctx, pro.ID, c.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Available != b.Issued-b.Consumed || b.Available < 0 || b.Consumed > b.Issued {
		t.Fatalf("ledger invariant broken: %+v", b)
	}
	return b
}

func setWindow(t *testing.T, env testEnv, minutes int) {
	t.Helper()
	if _, err := env.Engine.UpdateSettings(env.Ctx, engine.SettingsUpdate{
		ProfessionalID:                     pro.ID,
		NoPenaltyCancellationWindowMinutes: &minutes,
		Actor:                              pro,
	}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
}

func TestAcceptedProposalFundsBookings(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 3)
	if b := balance(t, env, client); b.Available != 3 || b.Issued != 3 {
		t.Fatalf("expected 3 available, got %+v", b)
	}
	a1, err := book(env, client, "2024-03-04", "10:00")
	if err != nil {
		t.Fatalf("book 1: %v", err)
	}
	a2, err := book(env, client, "2024-03-04", "11:00")
	if err != nil {
		t.Fatalf("book 2: %v", err)
	}
	if !a1.CreditConsumed || !a2.CreditConsumed || a1.Status != domain.AppointmentScheduled {
		t.Fatalf("unexpected appointments %+v %+v", a1, a2)
	}
	b := balance(t, env, client)
	if b.Available != 1 || b.Consumed != 2 {
		t.Fatalf("expected 1 available 2 consumed, got %+v", b)
	}
	list, err := env.Engine.ListAppointments(env.Ctx, repo.AppointmentFilters{ClientID: client.ID})
	if err != nil || len(list) != 2 {
		t.Fatalf("list appointments: %v %d", err, len(list))
	}
}

func TestProposalWorkflow(t *testing.T) {
	env := newTestEnv(t)
	var forbidden auth.ForbiddenError
	var state engine.InvalidStateError
	var validation engine.ValidationError

	_, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 1, Actor: client})
	if !errors.As(err, &forbidden) {
		t.Fatalf("client must not create proposals, got %v", err)
	}
	_, err = env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 0, Actor: pro})
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for zero credits, got %v", err)
	}
	_, err = env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: pro.ID, CreditsOffered: 1, Actor: pro})
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for self proposal, got %v", err)
	}

	p, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 2, Actor: pro})
	if err != nil || p.Status != domain.ProposalDraft {
		t.Fatalf("create draft: %v %+v", err, p)
	}
	if _, err := env.Engine.RespondProposal(env.Ctx, p.ID, true, client); !errors.As(err, &state) {
		t.Fatalf("respond on draft must be invalid state, got %v", err)
	}
	if _, err := env.Engine.SendProposal(env.Ctx, p.ID, client); !errors.As(err, &forbidden) {
		t.Fatalf("client must not send, got %v", err)
	}
	p, err = env.Engine.SendProposal(env.Ctx, p.ID, pro)
	if err != nil || p.Status != domain.ProposalSent || p.SentAt == nil {
		t.Fatalf("send: %v %+v", err, p)
	}
	if _, err := env.Engine.SendProposal(env.Ctx, p.ID, pro); !errors.As(err, &state) {
		t.Fatalf("double send must be invalid state, got %v", err)
	}
	if _, err := env.Engine.RespondProposal(env.Ctx, p.ID, true, otherCli); !errors.As(err, &forbidden) {
		t.Fatalf("only the client may respond, got %v", err)
	}
	if _, err := env.Engine.RespondProposal(env.Ctx, p.ID, true, pro); !errors.As(err, &forbidden) {
		t.Fatalf("professional may not respond, got %v", err)
	}
	p, err = env.Engine.RespondProposal(env.Ctx, p.ID, true, client)
	if err != nil || p.Status != domain.ProposalAccepted || p.RespondedAt == nil {
		t.Fatalf("accept: %v %+v", err, p)
	}
	// A retried accept must not issue again.
	if _, err := env.Engine.RespondProposal(env.Ctx, p.ID, true, client); !errors.As(err, &state) {
		t.Fatalf("retried accept must be invalid state, got %v", err)
	}
	if b := balance(t, env, client); b.Issued != 2 {
		t.Fatalf("expected single issuance, got %+v", b)
	}

	r, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 5, Send: true, Actor: pro})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if r, err = env.Engine.RespondProposal(env.Ctx, r.ID, false, client); err != nil || r.Status != domain.ProposalRejected {
		t.Fatalf("reject: %v %+v", err, r)
	}
	if b := balance(t, env, client); b.Issued != 2 {
		t.Fatalf("rejection must not touch the ledger, got %+v", b)
	}
	list, err := env.Engine.ListProposals(env.Ctx, repo.ProposalFilters{ProfessionalID: pro.ID})
	if err != nil || len(list) != 2 {
		t.Fatalf("list proposals: %v %d", err, len(list))
	}
}

func TestIssueCreditsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.IssueCredits(env.Ctx, "prop-x", pro.ID, client.ID, 4, pro.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	var dup engine.DuplicateIssuanceError
	if _, err := env.Engine.IssueCredits(env.Ctx, "prop-x", pro.ID, client.ID, 4, pro.ID); !errors.As(err, &dup) {
		t.Fatalf("expected duplicate issuance, got %v", err)
	}
	if dup.Amount != 4 || dup.IssuedAt == "" {
		t.Fatalf("duplicate should report the original issuance, got %+v", dup)
	}
	if b := balance(t, env, client); b.Issued != 4 || b.Available != 4 {
		t.Fatalf("expected 4 issued once, got %+v", b)
	}
	var amount engine.InvalidAmountError
	if _, err := env.Engine.IssueCredits(env.Ctx, "prop-y", pro.ID, client.ID, 0, pro.ID); !errors.As(err, &amount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := env.Engine.IssueCredits(env.Ctx, "prop-z", pro.ID, client.ID, 2, pro.ID); err != nil {
		t.Fatalf("second issuance: %v", err)
	}
	if b := balance(t, env, client); b.Issued != 6 {
		t.Fatalf("issuances accumulate per pair, got %+v", b)
	}
}

func TestConsumeAndRefund(t *testing.T) {
	env := newTestEnv(t)
	b := balance(t, env, client)
	if b.Issued != 0 || b.Available != 0 {
		t.Fatalf("absent ledger must read as zero, got %+v", b)
	}
	var insufficient engine.InsufficientBalanceError
	if _, err := env.Engine.ConsumeCredits(env.Ctx, pro.ID, client.ID, 1, client.ID); !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := env.Engine.IssueCredits(env.Ctx, "p1", pro.ID, client.ID, 2, pro.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	var state engine.InvalidStateError
	if _, err := env.Engine.RefundCredits(env.Ctx, pro.ID, client.ID, 1, pro.ID); !errors.As(err, &state) {
		t.Fatalf("refund with nothing consumed must be invalid state, got %v", err)
	}
	if b, err := env.Engine.ConsumeCredits(env.Ctx, pro.ID, client.ID, 2, client.ID); err != nil || b.Available != 0 {
		t.Fatalf("consume: %v %+v", err, b)
	}
	if _, err := env.Engine.ConsumeCredits(env.Ctx, pro.ID, client.ID, 1, client.ID); !errors.As(err, &insufficient) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if insufficient.Available != 0 || insufficient.Requested != 1 {
		t.Fatalf("unexpected error detail %+v", insufficient)
	}
	if b, err := env.Engine.RefundCredits(env.Ctx, pro.ID, client.ID, 1, pro.ID); err != nil || b.Available != 1 || b.Consumed != 1 {
		t.Fatalf("refund: %v %+v", err, b)
	}
	balance(t, env, client)
}

func TestCanSchedule(t *testing.T) {
	env := newTestEnv(t)
	ok, err := env.Engine.CanSchedule(env.Ctx, client.ID, client.Role, pro.ID)
	if err != nil || ok {
		t.Fatalf("no balance must not schedule: %v %v", ok, err)
	}
	fund(t, env, client, 1)
	if ok, _ := env.Engine.CanSchedule(env.Ctx, client.ID, client.Role, pro.ID); !ok {
		t.Fatalf("funded client must schedule")
	}
	if ok, _ := env.Engine.CanSchedule(env.Ctx, client.ID, domain.RoleDependent, pro.ID); ok {
		t.Fatalf("dependents never schedule")
	}
	if ok, _ := env.Engine.CanSchedule(env.Ctx, pro.ID, domain.RoleProfessional, pro.ID); ok {
		t.Fatalf("professionals never book themselves")
	}
	var forbidden auth.ForbiddenError
	if _, err := book(env, domain.Actor{ID: client.ID, Role: domain.RoleDependent}, "2024-03-04", "10:00"); !errors.As(err, &forbidden) {
		t.Fatalf("dependent booking must be forbidden, got %v", err)
	}
	if _, err := book(env, dependent, "2024-03-04", "10:00"); !errors.As(err, &forbidden) {
		t.Fatalf("dependent booking must be forbidden, got %v", err)
	}
}

func TestSlotStatusPrecedence(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 1)
	if _, err := book(env, client, "2024-03-05", "09:00"); err != nil {
		t.Fatalf("book: %v", err)
	}
	status, err := env.Engine.SlotStatus(env.Ctx, pro.ID, "2024-03-05", "09:00")
	if err != nil || status != domain.SlotOccupied {
		t.Fatalf("expected occupied, got %s %v", status, err)
	}
	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, StartDate: "2024-03-05", Actor: pro}); err != nil {
		t.Fatalf("block: %v", err)
	}
	if status, _ := env.Engine.SlotStatus(env.Ctx, pro.ID, "2024-03-05", "09:00"); status != domain.SlotBlocked {
		t.Fatalf("block must win over appointment, got %s", status)
	}
	full, err := env.Engine.DateFullyBlocked(env.Ctx, pro.ID, "2024-03-05")
	if err != nil || !full {
		t.Fatalf("expected fully blocked: %v %v", full, err)
	}

	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{
		ProfessionalID: pro.ID, StartDate: "2024-03-06", EndDate: "2024-03-08",
		TimeRanges: []domain.TimeRange{{Start: "12:00", End: "14:00"}}, Actor: pro,
	}); err != nil {
		t.Fatalf("range block: %v", err)
	}
	cases := map[string]string{"11:00": domain.SlotAvailable, "12:00": domain.SlotBlocked, "13:30": domain.SlotBlocked, "14:00": domain.SlotAvailable}
	for clock, want := range cases {
		if got, _ := env.Engine.SlotStatus(env.Ctx, pro.ID, "2024-03-07", clock); got != want {
			t.Fatalf("2024-03-07 %s: want %s got %s", clock, want, got)
		}
	}
	if full, _ := env.Engine.DateFullyBlocked(env.Ctx, pro.ID, "2024-03-07"); full {
		t.Fatalf("time-scoped block does not block the whole day")
	}
	var validation engine.ValidationError
	if _, err := env.Engine.SlotStatus(env.Ctx, pro.ID, "2024-13-07", "10:00"); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelRefundsOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	setWindow(t, env, 2880)
	fund(t, env, client, 2)
	a, err := book(env, client, "2024-03-04", "09:00") // 72h ahead
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	before := balance(t, env, client)
	res, err := env.Engine.Cancel(env.Ctx, a.ID, client)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Refunded || res.Appointment.Status != domain.AppointmentCancelled || res.Appointment.CreditConsumed {
		t.Fatalf("expected refund, got %+v", res)
	}
	after := balance(t, env, client)
	if after.Available != before.Available+1 || after.Consumed != before.Consumed-1 {
		t.Fatalf("expected credit back: before %+v after %+v", before, after)
	}
	// The freed slot can be booked again with a new appointment.
	if _, err := book(env, client, "2024-03-04", "09:00"); err != nil {
		t.Fatalf("rebook: %v", err)
	}
}

func TestCancelForfeitsInsideWindow(t *testing.T) {
	env := newTestEnv(t)
	setWindow(t, env, 2880)
	fund(t, env, client, 2)
	a, err := book(env, client, "2024-03-01", "19:00") // 10h ahead
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	before := balance(t, env, client)
	res, err := env.Engine.Cancel(env.Ctx, a.ID, client)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Refunded || !res.Appointment.CreditConsumed {
		t.Fatalf("expected forfeit, got %+v", res)
	}
	stored, err := env.Engine.GetAppointment(env.Ctx, a.ID)
	if err != nil || stored.Status != domain.AppointmentCancelled || !stored.CreditConsumed {
		t.Fatalf("stored appointment %+v %v", stored, err)
	}
	after := balance(t, env, client)
	if after != before {
		t.Fatalf("forfeit must not touch the ledger: before %+v after %+v", before, after)
	}
}

func TestCancelAtExactWindowRefunds(t *testing.T) {
	env := newTestEnv(t)
	setWindow(t, env, 2880)
	fund(t, env, client, 1)
	a, err := book(env, client, "2024-03-03", "09:00") // exactly 48h ahead
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	res, err := env.Engine.Cancel(env.Ctx, a.ID, client)
	if err != nil || !res.Refunded {
		t.Fatalf("boundary is inclusive, got %+v %v", res, err)
	}
}

func TestCancelRules(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 3)
	a, err := book(env, client, "2024-03-10", "10:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.Cancel(env.Ctx, a.ID, otherCli); !errors.As(err, &forbidden) {
		t.Fatalf("stranger must not cancel, got %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, a.ID, secretary); !errors.As(err, &forbidden) {
		t.Fatalf("undelegated secretary must not cancel, got %v", err)
	}
	if _, err := env.Engine.GrantDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: secretary, Permission: domain.PermManageSchedule, Actor: pro}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, a.ID, secretary); err != nil {
		t.Fatalf("delegate cancel: %v", err)
	}
	var nf engine.NotFoundError
	if _, err := env.Engine.Cancel(env.Ctx, a.ID, client); !errors.As(err, &nf) || !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cancelling twice must be not found, got %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, "missing", client); !errors.As(err, &nf) {
		t.Fatalf("missing appointment must be not found, got %v", err)
	}

	b, err := book(env, client, "2024-03-10", "11:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, b.ID, pro); err != nil {
		t.Fatalf("complete: %v", err)
	}
	var state engine.InvalidStateError
	if _, err := env.Engine.Cancel(env.Ctx, b.ID, client); !errors.As(err, &state) {
		t.Fatalf("completed appointment cancel must be invalid state, got %v", err)
	}
}

func TestConcurrentBookingsLastCredit(t *testing.T) {
	for name, withLocker := range map[string]bool{"locker": true, "storage only": false} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			if !withLocker {
				env.Engine.Locker = nil
			}
			fund(t, env, client, 1)
			errs := make([]error, 2)
			var wg sync.WaitGroup
			for i, clock := range []string{"10:00", "11:00"} {
				wg.Add(1)
				go func(i int, clock string) {
					defer wg.Done()
					_, errs[i] = book(env, client, "2024-03-04", clock)
				}(i, clock)
			}
			wg.Wait()
			var ok, insufficient int
			for _, err := range errs {
				var ib engine.InsufficientBalanceError
				switch {
				case err == nil:
					ok++
				case errors.As(err, &ib):
					insufficient++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if ok != 1 || insufficient != 1 {
				t.Fatalf("expected one success and one insufficient balance, got %d/%d", ok, insufficient)
			}
			list, _ := env.Engine.ListAppointments(env.Ctx, repo.AppointmentFilters{ProfessionalID: pro.ID})
			if len(list) != 1 {
				t.Fatalf("expected exactly one appointment, got %d", len(list))
			}
			if b := balance(t, env, client); b.Available != 0 || b.Consumed != 1 {
				t.Fatalf("unexpected balance %+v", b)
			}
		})
	}
}

func TestConcurrentBookingsSameSlot(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 1)
	fund(t, env, otherCli, 1)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, c := range []domain.Actor{client, otherCli} {
		wg.Add(1)
		go func(i int, c domain.Actor) {
			defer wg.Done()
			_, errs[i] = book(env, c, "2024-03-04", "15:00")
		}(i, c)
	}
	wg.Wait()
	var ok, taken int
	for _, err := range errs {
		var su engine.SlotUnavailableError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &su) && su.Reason == domain.SlotOccupied:
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || taken != 1 {
		t.Fatalf("expected one winner, got %d/%d", ok, taken)
	}
	total := balance(t, env, client).Consumed + balance(t, env, otherCli).Consumed
	if total != 1 {
		t.Fatalf("exactly one credit consumed, got %d", total)
	}
}

func TestBookOnBlockedDayLeavesLedger(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 2)
	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, Kind: domain.BlockSingleDay, StartDate: "2024-03-06", EndDate: "2024-03-06", Reason: "feriado", Actor: pro}); err != nil {
		t.Fatalf("block: %v", err)
	}
	before := balance(t, env, client)
	_, err := book(env, client, "2024-03-06", "10:00")
	var su engine.SlotUnavailableError
	if !errors.As(err, &su) || su.Reason != domain.SlotBlocked {
		t.Fatalf("expected blocked slot, got %v", err)
	}
	if after := balance(t, env, client); after != before {
		t.Fatalf("ledger changed: before %+v after %+v", before, after)
	}
	if engine.Classify(err) != engine.ClassConflict {
		t.Fatalf("slot unavailable is a conflict, got %s", engine.Classify(err))
	}
}

func TestBookNoticeTooShort(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 2)
	var notice engine.NoticeTooShortError
	if _, err := book(env, client, "2024-03-01", "09:30"); !errors.As(err, &notice) {
		t.Fatalf("expected notice too short, got %v", err)
	}
	if _, err := book(env, client, "2024-02-28", "09:30"); !errors.As(err, &notice) {
		t.Fatalf("past slot must fail notice, got %v", err)
	}
	if b := balance(t, env, client); b.Consumed != 0 {
		t.Fatalf("no credit should be consumed, got %+v", b)
	}
	if _, err := book(env, client, "2024-03-01", "10:00"); err != nil {
		t.Fatalf("exactly the notice window is allowed: %v", err)
	}
}

func TestBlocksAndDelegation(t *testing.T) {
	env := newTestEnv(t)
	var forbidden auth.ForbiddenError
	var validation engine.ValidationError

	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, StartDate: "2024-03-05", Actor: secretary}); !errors.As(err, &forbidden) {
		t.Fatalf("undelegated secretary must not block, got %v", err)
	}
	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, Kind: domain.BlockSingleDay, StartDate: "2024-03-05", EndDate: "2024-03-06", Actor: pro}); !errors.As(err, &validation) {
		t.Fatalf("single day spanning two days must fail, got %v", err)
	}
	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, StartDate: "2024-03-07", EndDate: "2024-03-05", Actor: pro}); !errors.As(err, &validation) {
		t.Fatalf("inverted range must fail, got %v", err)
	}
	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, StartDate: "2024-03-05", TimeRanges: []domain.TimeRange{{Start: "10:00", End: "09:00"}}, Actor: pro}); !errors.As(err, &validation) {
		t.Fatalf("inverted time range must fail, got %v", err)
	}

	if _, err := env.Engine.GrantDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: client, Permission: domain.PermManageSchedule, Actor: pro}); !errors.As(err, &validation) {
		t.Fatalf("only secretaries can be delegates, got %v", err)
	}
	if _, err := env.Engine.GrantDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: secretary, Permission: domain.PermManageSchedule, Actor: secretary}); !errors.As(err, &forbidden) {
		t.Fatalf("only the professional grants, got %v", err)
	}
	if _, err := env.Engine.GrantDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: secretary, Permission: domain.PermManageSchedule, Actor: pro}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	b, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, StartDate: "2024-03-05", EndDate: "2024-03-07", Actor: secretary})
	if err != nil || b.Kind != domain.BlockDateRange {
		t.Fatalf("delegate block: %v %+v", err, b)
	}
	if _, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 1, Actor: secretary}); !errors.As(err, &forbidden) {
		t.Fatalf("schedule delegation does not cover proposals, got %v", err)
	}
	if _, err := env.Engine.GrantDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: secretary, Permission: domain.PermNegotiateProposal, Actor: pro}); err != nil {
		t.Fatalf("grant negotiate: %v", err)
	}
	if _, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 1, Send: true, Actor: secretary}); err != nil {
		t.Fatalf("delegate proposal: %v", err)
	}
	if _, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalOptions{ProfessionalID: pro.ID, ClientID: client.ID, CreditsOffered: 1, Actor: admin}); err != nil {
		t.Fatalf("admin proposal: %v", err)
	}

	if err := env.Engine.RemoveBlock(env.Ctx, b.ID, otherCli); !errors.As(err, &forbidden) {
		t.Fatalf("stranger must not remove block, got %v", err)
	}
	if err := env.Engine.RevokeDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: secretary, Permission: domain.PermManageSchedule, Actor: pro}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.Engine.RemoveBlock(env.Ctx, b.ID, secretary); !errors.As(err, &forbidden) {
		t.Fatalf("revoked secretary must not remove block, got %v", err)
	}
	if err := env.Engine.RemoveBlock(env.Ctx, b.ID, pro); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var nf engine.NotFoundError
	if err := env.Engine.RemoveBlock(env.Ctx, b.ID, pro); !errors.As(err, &nf) {
		t.Fatalf("second remove must be not found, got %v", err)
	}
}

func TestBlockedDatesInRange(t *testing.T) {
	env := newTestEnv(t)
	mustBlock := func(opts engine.BlockOptions) {
		opts.ProfessionalID = pro.ID
		opts.Actor = pro
		if _, err := env.Engine.CreateBlock(env.Ctx, opts); err != nil {
			t.Fatalf("block: %v", err)
		}
	}
	mustBlock(engine.BlockOptions{StartDate: "2024-02-27", EndDate: "2024-03-02"})
	mustBlock(engine.BlockOptions{StartDate: "2024-03-05", TimeRanges: []domain.TimeRange{{Start: "09:00", End: "10:00"}}})
	mustBlock(engine.BlockOptions{StartDate: "2024-04-01"})

	days, err := env.Engine.BlockedDatesInRange(env.Ctx, pro.ID, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("blocked dates: %v", err)
	}
	want := []engine.BlockedDay{{Date: "2024-03-01", WholeDay: true}, {Date: "2024-03-02", WholeDay: true}, {Date: "2024-03-05", WholeDay: false}}
	if len(days) != len(want) {
		t.Fatalf("want %v got %v", want, days)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("want %v got %v", want, days)
		}
	}
	blocks, err := env.Engine.ListBlocks(env.Ctx, pro.ID)
	if err != nil || len(blocks) != 3 {
		t.Fatalf("list blocks: %v %d", err, len(blocks))
	}
}

func TestDaySlots(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 1)
	if _, err := book(env, client, "2024-03-04", "10:00"); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.Engine.CreateBlock(env.Ctx, engine.BlockOptions{ProfessionalID: pro.ID, StartDate: "2024-03-04", TimeRanges: []domain.TimeRange{{Start: "12:00", End: "14:00"}}, Actor: pro}); err != nil {
		t.Fatalf("block: %v", err)
	}
	view, err := env.Engine.DaySlots(env.Ctx, pro.ID, "2024-03-04")
	if err != nil {
		t.Fatalf("day slots: %v", err)
	}
	if view.FullyBlocked || len(view.Slots) != 10 {
		t.Fatalf("unexpected view %+v", view)
	}
	got := map[string]string{}
	for _, s := range view.Slots {
		got[s.Time] = s.Status
	}
	if got["08:00"] != domain.SlotAvailable || got["10:00"] != domain.SlotOccupied || got["12:00"] != domain.SlotBlocked || got["13:00"] != domain.SlotBlocked || got["14:00"] != domain.SlotAvailable {
		t.Fatalf("unexpected statuses %v", got)
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	fund(t, env, client, 1)
	a, err := book(env, client, "2024-03-04", "10:00")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.Confirm(env.Ctx, a.ID, client); !errors.As(err, &forbidden) {
		t.Fatalf("client must not confirm, got %v", err)
	}
	if a, err = env.Engine.Confirm(env.Ctx, a.ID, pro); err != nil || a.Status != domain.AppointmentConfirmed {
		t.Fatalf("confirm: %v %+v", err, a)
	}
	var state engine.InvalidStateError
	if _, err := env.Engine.Confirm(env.Ctx, a.ID, pro); !errors.As(err, &state) {
		t.Fatalf("double confirm must be invalid state, got %v", err)
	}
	if a, err = env.Engine.Complete(env.Ctx, a.ID, pro); err != nil || a.Status != domain.AppointmentCompleted {
		t.Fatalf("complete: %v %+v", err, a)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "appointment", EntityID: a.ID})
	if err != nil || len(evts) != 3 {
		t.Fatalf("expected booked/confirmed/completed events, got %d %v", len(evts), err)
	}
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.GetSettings(env.Ctx, pro.ID)
	if err != nil || s.MinNoticeMinutesForBooking != 60 || s.NoPenaltyCancellationWindowMinutes != 1440 {
		t.Fatalf("defaults: %v %+v", err, s)
	}
	neg := -5
	var validation engine.ValidationError
	if _, err := env.Engine.UpdateSettings(env.Ctx, engine.SettingsUpdate{ProfessionalID: pro.ID, MinNoticeMinutesForBooking: &neg, Actor: pro}); !errors.As(err, &validation) {
		t.Fatalf("negative notice must fail, got %v", err)
	}
	var forbidden auth.ForbiddenError
	zero := 0
	if _, err := env.Engine.UpdateSettings(env.Ctx, engine.SettingsUpdate{ProfessionalID: pro.ID, MinNoticeMinutesForBooking: &zero, Actor: client}); !errors.As(err, &forbidden) {
		t.Fatalf("client must not update settings, got %v", err)
	}
	s, err = env.Engine.UpdateSettings(env.Ctx, engine.SettingsUpdate{ProfessionalID: pro.ID, MinNoticeMinutesForBooking: &zero, Actor: pro})
	if err != nil || s.MinNoticeMinutesForBooking != 0 || s.NoPenaltyCancellationWindowMinutes != 1440 {
		t.Fatalf("update: %v %+v", err, s)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want engine.Class
	}{
		{engine.ValidationError{Field: "date", Message: "bad"}, engine.ClassValidation},
		{engine.InvalidAmountError{Amount: 0}, engine.ClassValidation},
		{engine.NoticeTooShortError{}, engine.ClassValidation},
		{auth.ForbiddenError{Permission: "x"}, engine.ClassAuthorization},
		{engine.InsufficientBalanceError{}, engine.ClassConflict},
		{engine.DuplicateIssuanceError{}, engine.ClassConflict},
		{engine.InvalidStateError{}, engine.ClassConflict},
		{engine.NotFoundError{Entity: "appointment", ID: "a"}, engine.ClassNotFound},
		{errors.New("disk on fire"), engine.ClassInternal},
	}
	for _, c := range cases {
		if got := engine.Classify(c.err); got != c.want {
			t.Fatalf("%T: want %s got %s", c.err, c.want, got)
		}
	}
}

func TestOnBehalfBookingUsesLedgerRole(t *testing.T) {
	env := newTestEnv(t)
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.GrantDelegate(env.Ctx, engine.DelegateOptions{ProfessionalID: pro.ID, Delegate: secretary, Permission: domain.PermManageSchedule, Actor: pro}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	perms, err := env.Engine.DelegatePermissions(env.Ctx, pro.ID, secretary.ID)
	if err != nil || len(perms) != 1 || perms[0] != domain.PermManageSchedule {
		t.Fatalf("delegate permissions: %v %v", perms, err)
	}

	fund(t, env, dependent, 2)
	if b := balance(t, env, dependent); b.ClientRole != domain.RoleDependent {
		t.Fatalf("accepting role not recorded: %+v", b)
	}
	claimed := domain.Actor{ID: dependent.ID, Role: domain.RoleClient}
	for _, c := range []domain.Actor{claimed, {ID: dependent.ID}} {
		_, err := env.Engine.Book(env.Ctx, engine.BookOptions{ProfessionalID: pro.ID, Client: c, BookedBy: secretary, Date: "2024-03-05", Time: "09:00"})
		if !errors.As(err, &forbidden) {
			t.Fatalf("booking a dependent on their behalf must be forbidden, got %v", err)
		}
	}
	if ok, _ := env.Engine.CanSchedule(env.Ctx, dependent.ID, domain.RoleClient, pro.ID); ok {
		t.Fatalf("ledger role dependente must not schedule")
	}
	if b := balance(t, env, dependent); b.Available != 2 {
		t.Fatalf("dependent ledger must be untouched, got %+v", b)
	}

	// Credits issued outside a proposal response carry no role.
	if _, err := env.Engine.IssueCredits(env.Ctx, "manual-1", pro.ID, otherCli.ID, 1, pro.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.Engine.Book(env.Ctx, engine.BookOptions{ProfessionalID: pro.ID, Client: otherCli, BookedBy: secretary, Date: "2024-03-05", Time: "09:00"}); !errors.As(err, &forbidden) {
		t.Fatalf("unverified client role must be rejected on behalf, got %v", err)
	}
	if _, err := book(env, otherCli, "2024-03-05", "09:00"); err != nil {
		t.Fatalf("self booking with authenticated role: %v", err)
	}

	fund(t, env, client, 1)
	a, err := env.Engine.Book(env.Ctx, engine.BookOptions{ProfessionalID: pro.ID, Client: domain.Actor{ID: client.ID}, BookedBy: secretary, Date: "2024-03-05", Time: "10:00"})
	if err != nil {
		t.Fatalf("on-behalf booking for a verified client: %v", err)
	}
	if a.ClientID != client.ID || balance(t, env, client).Available != 0 {
		t.Fatalf("unexpected booking %+v", a)
	}
}
