/*-------------------------------------------------------------------------
 *
 * QPG - Embedding Model Assets
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package embedding

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
)

const (
	// DefaultModelID tags stored vectors; changing it invalidates them.
	DefaultModelID = "codebert-base-v1"

	modelRepo    = "microsoft/codebert-base"
	modelDirname = "microsoft__codebert-base"
	assetBaseURL = "https://huggingface.co/" + modelRepo + "/resolve/main/"
)

// modelAssets are the tokenizer files fetched by `qpg init`. The embedder
// itself is weight-free, but the assets pin the tokenizer contract.
var modelAssets = []string{
	"vocab.json",
	"merges.txt",
	"tokenizer_config.json",
	"config.json",
}

// ModelDir returns the on-disk location of the model assets.
func ModelDir(modelsDir string) string {
	return filepath.Join(modelsDir, modelDirname)
}

func modelReady(dir string) bool {
	for _, asset := range modelAssets {
		if _, err := os.Stat(filepath.Join(dir, asset)); err != nil {
			return false
		}
	}
	return true
}

// EnsureModel verifies the model assets exist, downloading them when
// download is true. Without download it fails if the assets are missing,
// pointing the operator at `qpg init`.
func EnsureModel(modelsDir string, download bool) (string, error) {
	dir := ModelDir(modelsDir)
	if modelReady(dir) {
		return dir, nil
	}
	if !download {
		return "", qerrors.New(qerrors.KindInternal,
			"vector model is not initialized. Run `qpg init` to download it")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", qerrors.Wrapf(qerrors.KindInternal, err, "failed to create model directory %s", dir)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	for _, asset := range modelAssets {
		target := filepath.Join(dir, asset)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		logging.Info("downloading model asset", "model", modelRepo, "asset", asset)
		if err := downloadAsset(client, assetBaseURL+asset, target); err != nil {
			return "", err
		}
	}
	logging.Info("model assets ready", "model", modelRepo, "dir", dir)
	return dir, nil
}

func downloadAsset(client *http.Client, url, target string) error {
	resp, err := client.Get(url)
	if err != nil {
		return qerrors.Wrapf(qerrors.KindConnectionError, err, "failed to download %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return qerrors.Newf(qerrors.KindConnectionError,
			"failed to download %s: %s", url, resp.Status)
	}

	tmp := target + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return qerrors.Wrapf(qerrors.KindInternal, err, "failed to create %s", tmp)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return qerrors.Wrapf(qerrors.KindConnectionError, err, "failed to download %s", url)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return qerrors.Wrap(qerrors.KindInternal, fmt.Sprintf("failed to write %s", target), err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return qerrors.Wrapf(qerrors.KindInternal, err, "failed to finalize %s", target)
	}
	return nil
}
