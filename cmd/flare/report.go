package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flarelabs/flare/internal/report"
	"github.com/flarelabs/flare/internal/storageutil"
)

func (e *environment) uploadReport(ctx context.Context, rep *report.Report) (string, error) {
	payload, err := storageutil.CompressedMarshal(rep)
	if err != nil {
		return "", err
	}
	key, err := e.bytebin.Post(ctx, payload, report.ContentType)
	if err != nil {
		return "", err
	}
	return e.config.ViewerURL + key, nil
}

func (e *environment) saveReport(ctx context.Context, rep *report.Report) (string, error) {
	name := fmt.Sprintf("profile-%s.flareprofile", time.Now().Format("2006-01-02_15.04.05"))
	if err := storageutil.CompressedWrite(ctx, e.reports, name, rep); err != nil {
		return "", err
	}
	return name, nil
}
