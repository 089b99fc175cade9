package mount

// Compile-time assertions that every backend, real or contract-only, satisfies
// MountSource (and WriteOverlay additionally satisfies Writable).
var (
	_ MountSource = (*TarMountSource)(nil)
	_ MountSource = (*FolderMountSource)(nil)
	_ MountSource = (*UnionMountSource)(nil)
	_ MountSource = (*AutoMountLayer)(nil)
	_ MountSource = (*WriteOverlay)(nil)
	_ MountSource = ZipMountSource{}
	_ MountSource = RarMountSource{}
	_ MountSource = SquashFSMountSource{}

	_ Writable = (*WriteOverlay)(nil)
)
