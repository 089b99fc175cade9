package fuseadapter

import (
	"fmt"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"
	"github.com/rs/zerolog/log"

	"github.com/ratarfs/ratarfs/pkg/config"
	"github.com/ratarfs/ratarfs/pkg/mount"
)

// Mount serves src at mountPoint, grounded directly on the teacher's
// MountArchive (pkg/clip/clip.go): create the mount point if missing, build
// fs.Options/fuse.MountOptions from cfg, construct the server, and return a
// startServer closure plus an error channel the caller selects on, the same
// three-phase (build, start, report) shape.
//
// Unlike the teacher (one archive, one mount, process exits on unmount),
// Mount also refuses to proceed if mountPoint already has something mounted
// on it (moby/sys/mountinfo), since ratarfs's recursive/union/overlay mounts
// make double-mounting a real operator mistake rather than a rare accident.
func Mount(src mount.MountSource, mountPoint string, cfg *config.Config) (start func() error, serverErrors <-chan error, server *fuse.Server, err error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if already, err := isMounted(mountPoint); err != nil {
		log.Warn().Err(err).Str("mount_point", mountPoint).Msg("could not check existing mounts, proceeding anyway")
	} else if already {
		return nil, nil, nil, fmt.Errorf("fuseadapter: %s is already a mount point", mountPoint)
	}

	if _, statErr := os.Stat(mountPoint); os.IsNotExist(statErr) {
		if mkErr := os.MkdirAll(mountPoint, 0o755); mkErr != nil {
			return nil, nil, nil, fmt.Errorf("fuseadapter: creating mount point: %w", mkErr)
		}
	}

	fsys, err := NewFileSystem(src)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fuseadapter: building filesystem: %w", err)
	}

	attrTimeout := cfg.AttrTimeout
	entryTimeout := cfg.EntryTimeout
	if attrTimeout == 0 {
		attrTimeout = time.Minute
	}
	if entryTimeout == 0 {
		entryTimeout = time.Minute
	}

	fsOptions := &fs.Options{AttrTimeout: &attrTimeout, EntryTimeout: &entryTimeout}
	_, writable := src.(mount.Writable)

	srv, err := fuse.NewServer(fs.NewNodeFS(fsys.Root(), fsOptions), mountPoint, &fuse.MountOptions{
		MaxBackground:        512,
		DisableXAttrs:        true,
		EnableSymlinkCaching: true,
		SyncRead:             false,
		RememberInodes:       true,
		MaxReadAhead:         1024 * 128,
		AllowOther:           false,
		Name:                 "ratarfs",
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fuseadapter: creating server: %w", err)
	}

	errs := make(chan error, 1)
	startServer := func() error {
		go func() {
			go srv.Serve()

			if waitErr := srv.WaitMount(); waitErr != nil {
				errs <- waitErr
				return
			}
			log.Info().Str("mount_point", mountPoint).Bool("writable", writable).Msg("mounted")

			srv.Wait()
			if closeErr := src.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Msg("closing mount source after unmount")
			}
			close(errs)
		}()
		return nil
	}

	return startServer, errs, srv, nil
}

// Unmount unmounts the filesystem server is serving, the counterpart the
// teacher never needed (MountArchive ran for the process lifetime and
// relied on the kernel's own unmount-on-exit); a long-lived ratarfs CLI
// needs an explicit one.
func Unmount(server *fuse.Server) error {
	if server == nil {
		return fmt.Errorf("fuseadapter: no server to unmount")
	}
	return server.Unmount()
}

func isMounted(mountPoint string) (bool, error) {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return false, err
	}
	for _, m := range mounts {
		if m.Mountpoint == mountPoint {
			return true, nil
		}
	}
	return false, nil
}
