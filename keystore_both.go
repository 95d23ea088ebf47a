package docstore

import (
	"go.uber.org/zap"
)

// bothKeyStore presents a live and a dead KeyStore as one keyspace. A record
// lives in the dead store iff its flags contain DocDeleted; writes move it
// across as needed so that no key is stored in both.
//
// Both stores must draw sequences from one counter, otherwise the merged
// sequence order isn't total.
type bothKeyStore struct {
	live   KeyStore
	dead   KeyStore
	logger *zap.Logger
}

func newBothKeyStore(live, dead KeyStore, logger *zap.Logger) *bothKeyStore {
	return &bothKeyStore{live: live, dead: dead, logger: logger}
}

func (s *bothKeyStore) Name() string { return s.live.Name() }

func (s *bothKeyStore) Live() KeyStore { return s.live }
func (s *bothKeyStore) Dead() KeyStore { return s.dead }

func (s *bothKeyStore) Read(stx StorageTx, key string, content ContentOption) (*Record, error) {
	rec, err := s.live.Read(stx, key, content)
	if err != nil || rec != nil {
		return rec, err
	}
	return s.dead.Read(stx, key, content)
}

func (s *bothKeyStore) GetBySequence(stx StorageTx, seq Sequence, content ContentOption) (*Record, error) {
	rec, err := s.live.GetBySequence(stx, seq, content)
	if err != nil || rec != nil {
		return rec, err
	}
	return s.dead.GetBySequence(stx, seq, content)
}

func (s *bothKeyStore) Set(stx StorageTx, upd RecordUpdate, cond SeqCondition, newSequence bool) (Sequence, error) {
	target, other := s.live, s.dead
	if upd.Flags.Contains(DocDeleted) {
		target, other = s.dead, s.live
	}

	if cond.Check && cond.Seq == 0 {
		// must not exist anywhere, and target.Set only checks the target
		existing, err := other.Read(stx, upd.Key, MetaOnly)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return 0, nil
		}
	}

	seq, err := target.Set(stx, upd, cond, newSequence)
	if err != nil {
		return 0, err
	}

	switch {
	case seq == 0 && cond.Check && cond.Seq > 0:
		// The caller may have seen the record in the other store: it is being
		// deleted or undeleted. Move it if the sequence matches there.
		exp, err := other.GetExpiration(stx, upd.Key)
		if err != nil {
			return 0, err
		}
		moved, err := other.Delete(stx, upd.Key, cond)
		if err != nil || !moved {
			return 0, err
		}
		seq, err = target.Set(stx, upd, Unconditional, newSequence)
		if err != nil {
			return 0, err
		}
		s.logger.Debug("moved record", zap.String("key", upd.Key), zap.String("from", other.Name()), zap.String("to", target.Name()))
		if err := s.carryExpiration(stx, target, upd.Key, exp); err != nil {
			return 0, err
		}
	case seq > 0 && !cond.Check:
		// a stale copy may linger in the other store
		exp, err := other.GetExpiration(stx, upd.Key)
		if err != nil {
			return 0, err
		}
		if _, err := other.Delete(stx, upd.Key, Unconditional); err != nil {
			return 0, err
		}
		if err := s.carryExpiration(stx, target, upd.Key, exp); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func (s *bothKeyStore) carryExpiration(stx StorageTx, target KeyStore, key string, exp Expiration) error {
	if exp == NoExpiration {
		return nil
	}
	cur, err := target.GetExpiration(stx, key)
	if err != nil || cur != NoExpiration {
		return err
	}
	_, err = target.SetExpiration(stx, key, exp)
	return err
}

// Delete removes the key from both stores, so that nothing survives even if
// the two ever disagree. cond is checked against whichever partition holds a
// matching record; the other copy goes regardless.
func (s *bothKeyStore) Delete(stx StorageTx, key string, cond SeqCondition) (bool, error) {
	ok, err := s.live.Delete(stx, key, cond)
	if err != nil {
		return false, err
	}
	other := s.dead
	if !ok && cond.Check {
		ok, err = s.dead.Delete(stx, key, cond)
		if err != nil || !ok {
			return false, err
		}
		other = s.live
	}
	gone, err := other.Delete(stx, key, Unconditional)
	if err != nil {
		return false, err
	}
	return ok || gone, nil
}

func (s *bothKeyStore) SetDocumentFlag(stx StorageTx, key string, seq Sequence, flags DocumentFlags) (bool, error) {
	ok, err := s.live.SetDocumentFlag(stx, key, seq, flags)
	if err != nil || ok {
		return ok, err
	}
	return s.dead.SetDocumentFlag(stx, key, seq, flags)
}

// RecordCount counts live records only.
func (s *bothKeyStore) RecordCount(stx StorageTx) (int, error) {
	return s.live.RecordCount(stx)
}

func (s *bothKeyStore) LastSequence(stx StorageTx) (Sequence, error) {
	return s.live.LastSequence(stx)
}

// NewEnumerator walks the live store alone unless deleted records are
// requested. Expiration scans always cover both stores, since tombstones
// can expire too.
func (s *bothKeyStore) NewEnumerator(stx StorageTx, order EnumOrder, since Sequence, opts RecordEnumeratorOptions) (RecordEnumerator, error) {
	if !opts.IncludeDeleted && order != ByExpiration {
		return s.live.NewEnumerator(stx, order, since, opts)
	}
	live, err := s.live.NewEnumerator(stx, order, since, opts)
	if err != nil {
		return nil, err
	}
	dead, err := s.dead.NewEnumerator(stx, order, since, opts)
	if err != nil {
		live.Close()
		return nil, err
	}
	return newMergeEnumerator(live, dead, order, opts.Descending), nil
}

func (s *bothKeyStore) SetExpiration(stx StorageTx, key string, exp Expiration) (bool, error) {
	ok, err := s.live.SetExpiration(stx, key, exp)
	if err != nil || ok {
		return ok, err
	}
	return s.dead.SetExpiration(stx, key, exp)
}

// GetExpiration returns the later of the two stores' deadlines. Only one
// of them should ever be set.
func (s *bothKeyStore) GetExpiration(stx StorageTx, key string) (Expiration, error) {
	a, err := s.live.GetExpiration(stx, key)
	if err != nil {
		return NoExpiration, err
	}
	b, err := s.dead.GetExpiration(stx, key)
	if err != nil {
		return NoExpiration, err
	}
	return max(a, b), nil
}

func (s *bothKeyStore) NextExpiration(stx StorageTx) (Expiration, error) {
	a, err := s.live.NextExpiration(stx)
	if err != nil {
		return NoExpiration, err
	}
	b, err := s.dead.NextExpiration(stx)
	if err != nil {
		return NoExpiration, err
	}
	switch {
	case a == NoExpiration:
		return b, nil
	case b == NoExpiration:
		return a, nil
	default:
		return min(a, b), nil
	}
}

func (s *bothKeyStore) ExpireRecords(stx StorageTx, now Expiration, callback func(key string)) (int, error) {
	a, err := s.live.ExpireRecords(stx, now, callback)
	if err != nil {
		return a, err
	}
	b, err := s.dead.ExpireRecords(stx, now, callback)
	return a + b, err
}

func (s *bothKeyStore) TransactionWillEnd(commit bool) {
	s.live.TransactionWillEnd(commit)
	s.dead.TransactionWillEnd(commit)
}

func (s *bothKeyStore) Compact(stx StorageTx) (int, error) {
	a, err := s.live.Compact(stx)
	if err != nil {
		return a, err
	}
	b, err := s.dead.Compact(stx)
	return a + b, err
}
