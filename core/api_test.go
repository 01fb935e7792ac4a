package core

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestKernel(t *testing.T) *KernelContext {
	t.Helper()
	store, err := OpenStore(StoreConfig{Dir: filepath.Join(t.TempDir(), "store")})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	registry, err := OpenClosureRegistry(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatalf("OpenClosureRegistry: %v", err)
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewKernelContext(store, registry, nil, DefaultAdmissionConfig(), log)
}

func TestKernelContextCreateTaskRoundTrip(t *testing.T) {
	kc := newTestKernel(t)
	view, err := kc.CreateTask(State{"title": "write the launch plan"}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if view.Version != 1 {
		t.Fatalf("expected a freshly created task at version 1, got %d", view.Version)
	}
	got, err := kc.GetTask(view.EntityID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State["title"] != "write the launch plan" {
		t.Fatalf("unexpected task state: %+v", got.State)
	}
}

func TestKernelContextUpdateAndArchiveTask(t *testing.T) {
	kc := newTestKernel(t)
	view, err := kc.CreateTask(State{"title": "a", "status": "OPEN"}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	updated, err := kc.UpdateTask(view.EntityID, []PatchOp{{Op: OpReplace, Path: "/status", Value: "DONE"}}, AuthorUser)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.State["status"] != "DONE" {
		t.Fatalf("expected status DONE, got %v", updated.State["status"])
	}
	archived, err := kc.ArchiveTask(view.EntityID, AuthorUser)
	if err != nil {
		t.Fatalf("ArchiveTask: %v", err)
	}
	if archived.State["status"] != "ARCHIVED" {
		t.Fatalf("expected status ARCHIVED, got %v", archived.State["status"])
	}
}

func TestKernelContextUpdateTaskRejectsUnknownEntity(t *testing.T) {
	kc := newTestKernel(t)
	_, err := kc.UpdateTask("does-not-exist", []PatchOp{{Op: OpReplace, Path: "/status", Value: "DONE"}}, AuthorUser)
	if err == nil {
		t.Fatalf("expected an error updating a task that was never created")
	}
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected a not-found error, got %v", err)
	}
}

func TestKernelContextSetSignerSignsTaskDeltas(t *testing.T) {
	kc := newTestKernel(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	verifier, err := NewEd25519Verifier(pub)
	if err != nil {
		t.Fatalf("NewEd25519Verifier: %v", err)
	}
	kc.SetSigner(signer)

	view, err := kc.CreateTask(State{"title": "signed"}, AuthorUser)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	deltas := kc.Store.LoadDeltasForEntity(view.EntityID, ZeroHash)
	if len(deltas) != 1 {
		t.Fatalf("expected exactly one delta for a freshly created task, got %d", len(deltas))
	}
	if deltas[0].Signature == "" {
		t.Fatalf("expected the genesis delta to be signed once a Signer is installed")
	}
	ok, err := VerifyDeltaSignature(deltas[0], verifier)
	if err != nil {
		t.Fatalf("VerifyDeltaSignature: %v", err)
	}
	if !ok {
		t.Fatalf("expected the installed Signer's output to verify against its matching Verifier")
	}
}

func TestKernelContextSetSignerAlsoSignsClosureDeltas(t *testing.T) {
	kc := newTestKernel(t)
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := NewEd25519Signer(priv)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	kc.SetSigner(signer)

	_, _, delta, err := kc.Closure.Close(ClosureRequest{Title: "ship it", Outcome: OutcomeClosed, Source: AuthorUser})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if delta.Signature == "" {
		t.Fatalf("expected SetSigner to propagate onto the closure engine")
	}
}
