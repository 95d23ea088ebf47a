package docstore

// PartitionStats describes the storage used by one partition.
type PartitionStats struct {
	Records           int
	SequenceEntries   int
	ExpirationEntries int

	DataSize  int64
	DataAlloc int64
	IndexSize int64
}

func (ps *PartitionStats) TotalSize() int64 {
	return ps.DataSize + ps.IndexSize
}

type Stats struct {
	Live, Dead PartitionStats

	ArchivedBodies int
	ArchiveSize    int64
	LastSequence   Sequence
}

func (s *Stats) Documents() int {
	return s.Live.Records + s.Dead.Records
}

// Stats reports storage usage. Sizes are zero for backends that don't
// track them.
func (db *DB) Stats() (Stats, error) {
	var st Stats
	err := db.view(func(stx StorageTx) error {
		var err error
		if st.Live, err = db.live.stats(stx); err != nil {
			return err
		}
		if st.Dead, err = db.dead.stats(stx); err != nil {
			return err
		}
		if b := stx.Bucket(archiveBucket, archiveSub); b != nil {
			bs := b.Stats()
			st.ArchivedBodies, st.ArchiveSize = bs.KeyN, bs.LeafInuse
		}
		st.LastSequence, err = db.docs.LastSequence(stx)
		return err
	})
	return st, err
}
