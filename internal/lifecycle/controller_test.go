package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shpitdev/autoprospect/internal/dispatch"
	"github.com/shpitdev/autoprospect/internal/gateway"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/lifecycle"
)

type fnDrafter func(ctx context.Context, l lead.Lead, instructions string) (gateway.Drafts, error)

func (f fnDrafter) DraftEmails(ctx context.Context, l lead.Lead, instructions string) (gateway.Drafts, error) {
	return f(ctx, l, instructions)
}

func okDrafter(ctx context.Context, l lead.Lead, instructions string) (gateway.Drafts, error) {
	return gateway.Drafts{
		VariantA: lead.Draft{Subject: "A for " + l.CompanyName, Body: "Body A " + instructions},
		VariantB: lead.Draft{Subject: "B for " + l.CompanyName, Body: "Body B " + instructions},
	}, nil
}

func seed(repo *lead.Memory, status lead.Status, ids ...string) {
	leads := make([]lead.Lead, 0, len(ids))
	for _, id := range ids {
		l := lead.Lead{ID: id, CompanyName: id, Status: status, SelectedVariant: lead.VariantA}
		if status == lead.StatusReview || status == lead.StatusReady {
			l.Variants = &lead.Variants{
				A: lead.Draft{Subject: "sa", Body: "ba"},
				B: lead.Draft{Subject: "sb", Body: "bb"},
			}
			l.Final = l.Variants.A
		}
		leads = append(leads, l)
	}
	repo.InsertMany(leads)
}

func newController(drafter gateway.Drafter) (*lifecycle.Controller, *lead.Memory, *dispatch.Simulated) {
	repo := lead.NewMemory()
	sender := dispatch.NewSimulated(0, nil)
	return lifecycle.New(repo, drafter, sender, nil), repo, sender
}

func TestGenerateDraft_Success(t *testing.T) {
	t.Parallel()

	c, repo, _ := newController(fnDrafter(okDrafter))
	seed(repo, lead.StatusNew, "Acme Corp")

	got, err := c.GenerateDraft(context.Background(), "Acme Corp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != lead.StatusReview || got.SelectedVariant != lead.VariantA {
		t.Fatalf("unexpected lead: %#v", got)
	}
	if got.Variants == nil || !got.Variants.A.Complete() || !got.Variants.B.Complete() {
		t.Fatalf("variants not populated: %#v", got.Variants)
	}
	if got.Final != got.Variants.A {
		t.Fatalf("final should mirror variant A: %#v", got.Final)
	}
}

func TestGenerateDraft_FailureRevertsToNew(t *testing.T) {
	t.Parallel()

	prior := &lead.Variants{A: lead.Draft{Subject: "old a", Body: "old"}, B: lead.Draft{Subject: "old b", Body: "old"}}
	failing := fnDrafter(func(context.Context, lead.Lead, string) (gateway.Drafts, error) {
		return gateway.Drafts{}, gateway.ErrUnavailable
	})
	c, repo, _ := newController(failing)
	repo.InsertMany([]lead.Lead{{ID: "1", CompanyName: "Acme Corp", Status: lead.StatusNew, Variants: prior}})
	seed(repo, lead.StatusReview, "r1")

	before := repo.Counts().Review
	if _, err := c.GenerateDraft(context.Background(), "1"); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	got, _ := repo.Get("1")
	if got.Status != lead.StatusNew {
		t.Fatalf("expected NEW after failure, got %s", got.Status)
	}
	if got.Variants == nil || *got.Variants != *prior {
		t.Fatalf("prior variants not preserved: %#v", got.Variants)
	}
	if after := repo.Counts().Review; after != before {
		t.Fatalf("review count changed: %d -> %d", before, after)
	}
}

func TestGenerateDraft_IncompleteDraftReverts(t *testing.T) {
	t.Parallel()

	half := fnDrafter(func(context.Context, lead.Lead, string) (gateway.Drafts, error) {
		return gateway.Drafts{VariantA: lead.Draft{Subject: "s", Body: "b"}}, nil
	})
	c, repo, _ := newController(half)
	seed(repo, lead.StatusNew, "1")

	if _, err := c.GenerateDraft(context.Background(), "1"); !gateway.IsFormatError(err) {
		t.Fatalf("expected format error, got %v", err)
	}
	if got, _ := repo.Get("1"); got.Status != lead.StatusNew || got.Variants != nil {
		t.Fatalf("unexpected lead after incomplete draft: %#v", got)
	}
}

func TestGenerateDraft_MissingCredentialsTouchesNothing(t *testing.T) {
	t.Parallel()

	c, repo, _ := newController(gateway.Unconfigured{})
	seed(repo, lead.StatusNew, "1")

	if _, err := c.GenerateDraft(context.Background(), "1"); !errors.Is(err, gateway.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	got, _ := repo.Get("1")
	if got.Status != lead.StatusNew || !got.UpdatedAt.IsZero() {
		t.Fatalf("lead must not be touched: %#v", got)
	}
}

func TestGenerateDraft_ObservesDrafting(t *testing.T) {
	t.Parallel()

	var c *lifecycle.Controller
	var repo *lead.Memory
	var during lead.Status
	c, repo, _ = newController(fnDrafter(func(ctx context.Context, l lead.Lead, s string) (gateway.Drafts, error) {
		cur, _ := repo.Get(l.ID)
		during = cur.Status
		return okDrafter(ctx, l, s)
	}))
	seed(repo, lead.StatusNew, "1")

	if _, err := c.GenerateDraft(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if during != lead.StatusDrafting {
		t.Fatalf("expected DRAFTING while the gateway runs, got %s", during)
	}
}

func TestInvalidTransitionsAreNoops(t *testing.T) {
	t.Parallel()

	c, repo, _ := newController(fnDrafter(okDrafter))
	seed(repo, lead.StatusReady, "ready")
	seed(repo, lead.StatusNew, "new")

	tests := []struct {
		name string
		run  func() error
		id   string
	}{
		{name: "approve_new", id: "new", run: func() error { _, err := c.Approve("new"); return err }},
		{name: "approve_ready", id: "ready", run: func() error { _, err := c.Approve("ready"); return err }},
		{name: "generate_ready", id: "ready", run: func() error { _, err := c.GenerateDraft(context.Background(), "ready"); return err }},
		{name: "save_new", id: "new", run: func() error { _, err := c.SaveEdit("new", lifecycle.Edit{Subject: "s", Body: "b"}); return err }},
		{name: "send_new", id: "new", run: func() error { _, err := c.Dispatch(context.Background(), "new"); return err }},
		{name: "regenerate_new", id: "new", run: func() error { _, err := c.Regenerate(context.Background(), "new", ""); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := repo.Get(tt.id)
			if err := tt.run(); !errors.Is(err, lead.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			after, _ := repo.Get(tt.id)
			if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Fatalf("lead changed: %#v -> %#v", before, after)
			}
		})
	}
}

func TestUnknownLead(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(fnDrafter(okDrafter))
	if _, err := c.Approve("nope"); !errors.Is(err, lead.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.GenerateDraft(context.Background(), "nope"); !errors.Is(err, lead.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Delete("nope"); !errors.Is(err, lead.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveEdit_SelectsVariantB(t *testing.T) {
	t.Parallel()

	c, repo, _ := newController(fnDrafter(okDrafter))
	seed(repo, lead.StatusReview, "1")

	got, err := c.SaveEdit("1", lifecycle.Edit{Variant: lead.VariantB, Subject: "sb", Body: "Hello X"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != lead.StatusReady || got.Final.Body != "Hello X" || got.SelectedVariant != lead.VariantB {
		t.Fatalf("unexpected lead: %#v", got)
	}
	if got.Variants.A.Body != "ba" || got.Variants.B.Body != "bb" {
		t.Fatalf("saving must not rewrite the drafted variants: %#v", got.Variants)
	}

	// Saving again while READY keeps it READY.
	got, err = c.SaveEdit("1", lifecycle.Edit{Variant: lead.VariantA, Subject: "sa", Body: "Hello Y"})
	if err != nil || got.Status != lead.StatusReady || got.SelectedVariant != lead.VariantA {
		t.Fatalf("unexpected resave: %#v %v", got, err)
	}

	if _, err := c.SaveEdit("1", lifecycle.Edit{Variant: "C"}); err == nil {
		t.Fatalf("expected error for unknown variant")
	}
}

func TestSaveEdit_RejectsIncomplete(t *testing.T) {
	t.Parallel()

	c, repo, _ := newController(fnDrafter(okDrafter))
	seed(repo, lead.StatusReview, "1")

	for _, e := range []lifecycle.Edit{
		{Variant: lead.VariantA},
		{Variant: lead.VariantA, Subject: "sa", Body: "  "},
		{Variant: lead.VariantB, Subject: " ", Body: "Hello X"},
	} {
		if _, err := c.SaveEdit("1", e); !errors.Is(err, lifecycle.ErrIncompleteEdit) {
			t.Fatalf("SaveEdit(%#v): expected ErrIncompleteEdit, got %v", e, err)
		}
	}
	got, _ := repo.Get("1")
	if got.Status != lead.StatusReview || got.Final.Body != "ba" {
		t.Fatalf("rejected edit changed the lead: %#v", got)
	}
}

func TestSaveEdit_RejectedDuringDispatch(t *testing.T) {
	t.Parallel()

	repo := lead.NewMemory()
	seed(repo, lead.StatusReady, "1")

	var c *lifecycle.Controller
	var saveErr error
	var sent dispatch.Message
	c = lifecycle.New(repo, fnDrafter(okDrafter), dispatch.SenderFunc(func(_ context.Context, msg dispatch.Message) error {
		sent = msg
		_, saveErr = c.SaveEdit("1", lifecycle.Edit{Variant: lead.VariantB, Subject: "new", Body: "Hello X"})
		return nil
	}), nil)

	got, err := c.Dispatch(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(saveErr, lifecycle.ErrInFlight) {
		t.Fatalf("expected ErrInFlight for a save during dispatch, got %v", saveErr)
	}
	if got.Status != lead.StatusSent || got.Final.Subject != sent.Subject || got.Final.Body != sent.Body {
		t.Fatalf("SENT lead must keep the content that went out: %#v sent=%#v", got, sent)
	}

	// Once the send is over the guard is released.
	seed(repo, lead.StatusReady, "2")
	if _, err := c.SaveEdit("2", lifecycle.Edit{Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("save after dispatch: %v", err)
	}
}

func TestRegenerate_OverwritesVariantsOnly(t *testing.T) {
	t.Parallel()

	var gotInstructions string
	c, repo, _ := newController(fnDrafter(func(ctx context.Context, l lead.Lead, s string) (gateway.Drafts, error) {
		gotInstructions = s
		return okDrafter(ctx, l, s)
	}))
	seed(repo, lead.StatusReady, "1")
	if _, err := c.SaveEdit("1", lifecycle.Edit{Variant: lead.VariantB, Subject: "mine", Body: "kept"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := c.Regenerate(context.Background(), "1", "shorter please")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotInstructions != "shorter please" {
		t.Fatalf("instructions not forwarded: %q", gotInstructions)
	}
	if got.Status != lead.StatusReady || got.SelectedVariant != lead.VariantB || got.Final.Body != "kept" {
		t.Fatalf("regenerate touched more than the variants: %#v", got)
	}
	if got.Variants.A.Subject != "A for 1" || got.Variants.B.Subject != "B for 1" {
		t.Fatalf("variants not replaced: %#v", got.Variants)
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	c, repo, sender := newController(fnDrafter(okDrafter))
	seed(repo, lead.StatusReady, "1")

	got, err := c.Dispatch(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != lead.StatusSent || got.SentAt == nil {
		t.Fatalf("unexpected lead: %#v", got)
	}
	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Subject != "sa" || sent[0].Body != "ba" {
		t.Fatalf("final draft not dispatched: %#v", sent)
	}

	if _, err := c.Dispatch(context.Background(), "1"); !errors.Is(err, lead.ErrInvalidTransition) {
		t.Fatalf("second dispatch must be rejected, got %v", err)
	}
}

func TestDispatch_FailureStaysReady(t *testing.T) {
	t.Parallel()

	repo := lead.NewMemory()
	seed(repo, lead.StatusReady, "1")
	boom := errors.New("smtp down")
	c := lifecycle.New(repo, fnDrafter(okDrafter), dispatch.SenderFunc(func(context.Context, dispatch.Message) error {
		return boom
	}), nil)

	if _, err := c.Dispatch(context.Background(), "1"); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
	if got, _ := repo.Get("1"); got.Status != lead.StatusReady {
		t.Fatalf("expected READY after failed send, got %s", got.Status)
	}
}

func TestDispatch_InFlightGuard(t *testing.T) {
	t.Parallel()

	repo := lead.NewMemory()
	seed(repo, lead.StatusReady, "1")
	entered := make(chan struct{})
	release := make(chan struct{})
	c := lifecycle.New(repo, fnDrafter(okDrafter), dispatch.SenderFunc(func(context.Context, dispatch.Message) error {
		close(entered)
		<-release
		return nil
	}), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = c.Dispatch(context.Background(), "1")
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("first dispatch never reached the sender")
	}
	if _, err := c.Dispatch(context.Background(), "1"); !errors.Is(err, lifecycle.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first dispatch failed: %v", firstErr)
	}
}

func TestDelete_UpdatesCounts(t *testing.T) {
	t.Parallel()

	c, repo, _ := newController(fnDrafter(okDrafter))
	seed(repo, lead.StatusNew, "n1", "n2")
	seed(repo, lead.StatusReview, "r1")
	seed(repo, lead.StatusReady, "rd1")

	for _, id := range []string{"n1", "r1", "rd1"} {
		if err := c.Delete(id); err != nil {
			t.Fatalf("delete %s: %v", id, err)
		}
	}
	got := repo.Counts()
	want := lead.Counts{Total: 1, New: 1}
	if got != want {
		t.Fatalf("counts=%#v want %#v", got, want)
	}
}
