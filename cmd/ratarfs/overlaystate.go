package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ratarfs/ratarfs/pkg/model"
)

// overlayStateFile is the sidecar a mount session leaves behind in the
// overlay directory so a later "ratarfs commit" (run after the mount has
// been unmounted) can see the same deletions/renames the live mount did.
// WriteOverlay itself only holds this in memory (mount.NewWriteOverlay takes it as a
// constructor argument), so something outside pkg/mount has to round-trip it
// to disk between the mount and commit invocations.
const overlayStateFile = ".ratarfs-overlay-state.json"

type overlayStateDoc struct {
	Deletions []string          `json:"deletions"`
	Renames   map[string]string `json:"renames"`
}

func loadOverlayState(dir string) (*model.OverlayState, error) {
	data, err := os.ReadFile(filepath.Join(dir, overlayStateFile))
	if os.IsNotExist(err) {
		return model.NewOverlayState(), nil
	}
	if err != nil {
		return nil, err
	}

	var doc overlayStateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	state := model.NewOverlayState()
	for _, p := range doc.Deletions {
		state.Deletions[p] = struct{}{}
	}
	for from, to := range doc.Renames {
		state.Renames[from] = to
	}
	return state, nil
}

func saveOverlayState(dir string, state *model.OverlayState) error {
	doc := overlayStateDoc{
		Deletions: make([]string, 0, len(state.Deletions)),
		Renames:   state.Renames,
	}
	for p := range state.Deletions {
		doc.Deletions = append(doc.Deletions, p)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, overlayStateFile), data, 0o644)
}
