package storageprovider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/google/uuid"
	"github.com/phayes/freeport"

	"github.com/flarelabs/flare/internal/storageutil"
	"github.com/flarelabs/flare/internal/testutil"
)

const bucketName = "flare-reports"

var server *fakestorage.Server

func TestMain(m *testing.M) {
	port, err := freeport.GetFreePort()
	if err != nil {
		log.Fatalf("no free port found: %v", err)
	}
	publicHost := fmt.Sprintf("127.0.0.1:%d", port)
	server, err = fakestorage.NewServerWithOptions(fakestorage.Options{
		PublicHost: publicHost,
		Host:       "127.0.0.1",
		Port:       uint16(port),
		Scheme:     "http",
	})
	if err != nil {
		log.Fatalf("couldn't set up gcs server: %v", err)
	}
	os.Setenv("STORAGE_EMULATOR_HOST", publicHost)
	server.CreateBucketWithOpts(fakestorage.CreateBucketOpts{Name: bucketName})

	code := m.Run()
	os.Exit(code)
}

type storedReport struct {
	Version string   `json:"version"`
	Threads []string `json:"threads"`
}

func TestGcsRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	if err != nil {
		t.Fatalf("we should be able to create a client: %v", err)
	}
	gcs := &Gcs{BucketHandle: client.Bucket(bucketName)}

	objectName := uuid.New().String()
	in := storedReport{Version: "flare/1", Threads: []string{"Server thread", "Netty IO"}}
	if err := storageutil.CompressedWrite(ctx, gcs, objectName, in); err != nil {
		t.Fatal(err)
	}

	var out storedReport
	if err := storageutil.UnmarshalCompressed(ctx, gcs, objectName, &out); err != nil {
		t.Fatal(err)
	}
	if diff := testutil.Diff(in, out); diff != "" {
		t.Fatalf("report did not round-trip through gcs: %v", diff)
	}
}

func TestGcsMissingObject(t *testing.T) {
	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	if err != nil {
		t.Fatalf("we should be able to create a client: %v", err)
	}
	gcs := &Gcs{BucketHandle: client.Bucket(bucketName)}

	_, err = gcs.Get(ctx, uuid.New().String())
	if !errors.Is(err, storageutil.ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}
