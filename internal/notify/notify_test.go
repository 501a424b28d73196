package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/unclebandit/steadyletters-backend/internal/model"
	"github.com/unclebandit/steadyletters-backend/internal/queue"
)

type recordingQueue struct {
	topic   string
	payload any
	err     error
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.topic, q.payload = topic, payload
	return q.err
}

func (q *recordingQueue) Subscribe(string, func(any) error) error { return nil }

func TestQueueNotifier_AssignsJobID(t *testing.T) {
	q := &recordingQueue{}
	n := NewQueueNotifier(q, "")

	err := n.Notify(context.Background(), OrderStatusNotification{AccountID: "acc-1", ExternalID: "ext-1", Status: "delivered"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if q.topic != Topic {
		t.Errorf("topic = %q, want %q", q.topic, Topic)
	}
	got, ok := q.payload.(OrderStatusNotification)
	if !ok {
		t.Fatalf("payload type %T", q.payload)
	}
	if got.JobID == "" || got.OccurredAt.IsZero() {
		t.Errorf("expected job id and timestamp, got %+v", got)
	}
}

func TestQueueNotifier_PublishError(t *testing.T) {
	n := NewQueueNotifier(&recordingQueue{err: errors.New("broker down")}, "t")
	if err := n.Notify(context.Background(), OrderStatusNotification{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecode(t *testing.T) {
	raw := []byte(`{"job_id":"j1","account_id":"a1","kind":"order","row_id":4,"external_id":"e1","status":"sent"}`)
	n, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n.RowID != 4 || n.Status != "sent" {
		t.Errorf("decoded %+v", n)
	}

	if _, err := Decode(OrderStatusNotification{JobID: "x"}); err != nil {
		t.Errorf("struct payload: %v", err)
	}
	if _, err := Decode(42); err == nil {
		t.Error("expected error for int payload")
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Error("expected error for bad JSON")
	}
}

type stubAccounts struct {
	account *model.Account
	err     error
}

func (s *stubAccounts) GetByID(context.Context, string) (*model.Account, error) {
	return s.account, s.err
}

type stubMailer struct {
	to, subject, body string
	calls             int
	err               error
}

func (m *stubMailer) Send(_ context.Context, to, subject, body string) error {
	m.calls++
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func TestDeliverer_Handle(t *testing.T) {
	mailer := &stubMailer{}
	d := &Deliverer{
		Accounts: &stubAccounts{account: &model.Account{ID: "a1", Email: "ada@example.com"}},
		Mailer:   mailer,
	}

	err := d.Handle(context.Background(), OrderStatusNotification{AccountID: "a1", Kind: "order", ExternalID: "e1", Status: "delivered"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mailer.to != "ada@example.com" {
		t.Errorf("to = %q", mailer.to)
	}
	if !strings.Contains(mailer.subject, "delivered") {
		t.Errorf("subject = %q", mailer.subject)
	}
}

func TestDeliverer_MailerErrorIsRetryable(t *testing.T) {
	d := &Deliverer{
		Accounts: &stubAccounts{account: &model.Account{ID: "a1", Email: "ada@example.com"}},
		Mailer:   &stubMailer{err: errors.New("smtp down")},
	}
	if err := d.Handle(context.Background(), OrderStatusNotification{AccountID: "a1"}); err == nil {
		t.Fatal("expected error so the queue retries")
	}
}

func TestDeliverer_MalformedJobDropped(t *testing.T) {
	mailer := &stubMailer{}
	d := &Deliverer{Accounts: &stubAccounts{}, Mailer: mailer}
	if err := d.Handle(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("malformed job should be dropped, got %v", err)
	}
	if mailer.calls != 0 {
		t.Error("mailer should not be called")
	}
}

func TestDeliverer_ThroughInMemoryQueue(t *testing.T) {
	mailer := &stubMailer{}
	d := &Deliverer{
		Accounts: &stubAccounts{account: &model.Account{ID: "a1", Email: "bo@example.com"}},
		Mailer:   mailer,
	}

	q := queue.NewInMemoryQueue()
	q.Subscribe(Topic, func(payload any) error { return d.Handle(context.Background(), payload) })

	n := NewQueueNotifier(q, Topic)
	if err := n.Notify(context.Background(), OrderStatusNotification{AccountID: "a1", Kind: "mail_order", Status: "sent"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	q.Wait()

	if mailer.calls != 1 || mailer.to != "bo@example.com" {
		t.Errorf("calls = %d to = %q", mailer.calls, mailer.to)
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m := NewSMTPMailer("smtp.example.com", 587, "user", "pass", "SteadyLetters <no-reply@steadyletters.com>")
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := m.Send(context.Background(), "ada@example.com", "Hi", "line1\nline2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "no-reply@steadyletters.com" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(string(gotMsg), "Subject: Hi\r\n") || !strings.Contains(string(gotMsg), "line1\r\nline2") {
		t.Errorf("message = %q", gotMsg)
	}
}

func TestSMTPMailer_Unconfigured(t *testing.T) {
	m := NewSMTPMailer("", 25, "", "", "a@b.c")
	if err := m.Send(context.Background(), "x@y.z", "s", "b"); err == nil {
		t.Fatal("expected error without host")
	}
}
