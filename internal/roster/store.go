package roster

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/uclllabs/sasm-dns/internal/arpa"
)

// Bucket names
var (
	BucketStudents = []byte("students")
	BucketMeta     = []byte("meta")
)

var keyNextIndex = []byte("next_index")

// Store persists the roster and the next free host index in a bbolt file.
type Store struct {
	db   *bolt.DB
	pool Pool
}

// Open opens or creates the roster database at path.
func Open(path string, pool Pool) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{BucketStudents, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &Store{db: db, pool: pool}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func emailKey(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}

func readNextIndex(tx *bolt.Tx, first int) int {
	v := tx.Bucket(BucketMeta).Get(keyNextIndex)
	if len(v) != 8 {
		return first
	}
	return int(binary.BigEndian.Uint64(v))
}

func writeNextIndex(tx *bolt.Tx, next int) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	return tx.Bucket(BucketMeta).Put(keyNextIndex, buf[:])
}

func loadAll(tx *bolt.Tx) ([]Student, error) {
	var students []Student
	err := tx.Bucket(BucketStudents).ForEach(func(k, v []byte) error {
		var st Student
		if err := json.Unmarshal(v, &st); err != nil {
			return fmt.Errorf("decode student %s: %w", k, err)
		}
		students = append(students, st)
		return nil
	})
	return students, err
}

func putStudent(tx *bolt.Tx, st Student) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode student %s: %w", st.Email, err)
	}
	return tx.Bucket(BucketStudents).Put(emailKey(st.Email), data)
}

func sortByIndex(students []Student) {
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].Index != students[j].Index {
			return students[i].Index < students[j].Index
		}
		return students[i].Email < students[j].Email
	})
}

// List returns every student ordered by host index.
func (s *Store) List() ([]Student, error) {
	var students []Student
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		students, err = loadAll(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortByIndex(students)
	return students, nil
}

// Students implements Source.
func (s *Store) Students(ctx context.Context) ([]Student, error) {
	return s.List()
}

// Get returns the student registered under email.
func (s *Store) Get(email string) (*Student, error) {
	var st Student
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(BucketStudents).Get(emailKey(email))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// NextIndex returns the index the next assigned student will get.
func (s *Store) NextIndex() (int, error) {
	var next int
	err := s.db.View(func(tx *bolt.Tx) error {
		next = readNextIndex(tx, s.pool.First)
		return nil
	})
	return next, err
}

// Assign registers the e-mails not yet in the roster. New students are sorted
// by last name and get consecutive host indices. The whole batch is rejected
// with ErrPreconditionFailed, and nothing is written, when an address is
// malformed, the pool would be exhausted, or a derived zone collides with an
// existing one.
func (s *Store) Assign(emails []string, suffix string) ([]Student, error) {
	var added []Student

	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, err := loadAll(tx)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		next := readNextIndex(tx, s.pool.First)
		for _, st := range existing {
			known[string(emailKey(st.Email))] = true
			if st.Index >= next {
				next = st.Index + 1
			}
		}

		var fresh []Student
		var invalid []string
		for _, email := range emails {
			key := string(emailKey(email))
			if key == "" || known[key] {
				continue
			}
			known[key] = true

			st, err := DeriveIdentity(email, suffix)
			if err != nil {
				invalid = append(invalid, err.Error())
				continue
			}
			fresh = append(fresh, st)
		}
		if len(invalid) > 0 {
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, strings.Join(invalid, "; "))
		}
		if len(fresh) == 0 {
			return nil
		}

		if last := next + len(fresh) - 1; last > s.pool.Last {
			return fmt.Errorf("%w: %d new students need indices %d-%d, pool ends at %d",
				ErrPreconditionFailed, len(fresh), next, last, s.pool.Last)
		}

		SortByLastName(fresh)
		for i := range fresh {
			fresh[i].Index = next + i
			fresh[i].IPv4, fresh[i].IPv6, err = s.pool.Addresses(fresh[i].Index)
			if err != nil {
				return err
			}
		}

		if err := CheckUnique(append(existing, fresh...)); err != nil {
			return err
		}

		for _, st := range fresh {
			if err := putStudent(tx, st); err != nil {
				return err
			}
		}
		added = fresh
		return writeNextIndex(tx, next+len(fresh))
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Import merges a JSON snapshot into the store. Entries replace existing
// students with the same e-mail. Entries without an index get it from their
// IPv4 address. It returns the number of entries written.
func (s *Store) Import(r io.Reader) (int, error) {
	students, err := DecodeSnapshot(r)
	if err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		existing, err := loadAll(tx)
		if err != nil {
			return err
		}

		merged := make(map[string]Student, len(existing)+len(students))
		for _, st := range existing {
			merged[string(emailKey(st.Email))] = st
		}
		for i, st := range students {
			if st.Email == "" {
				return fmt.Errorf("%w: snapshot entry %d has no original_email", ErrPreconditionFailed, i)
			}
			if st.Index == 0 {
				if idx, ok := s.pool.IndexOf(st.IPv4); ok {
					st.Index = idx
				}
			}
			students[i] = st
			merged[string(emailKey(st.Email))] = st
		}

		all := make([]Student, 0, len(merged))
		for _, st := range merged {
			all = append(all, st)
		}
		if err := CheckUnique(all); err != nil {
			return err
		}

		next := readNextIndex(tx, s.pool.First)
		for _, st := range students {
			if err := putStudent(tx, st); err != nil {
				return err
			}
			if st.Index >= next {
				next = st.Index + 1
			}
		}
		return writeNextIndex(tx, next)
	})
	if err != nil {
		return 0, err
	}
	return len(students), nil
}

// Export writes the roster as a JSON snapshot ordered by host index.
func (s *Store) Export(w io.Writer) error {
	students, err := s.List()
	if err != nil {
		return err
	}
	return EncodeSnapshot(w, students)
}

// Remove deletes the student registered under email. The index is not reused.
func (s *Store) Remove(email string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketStudents)
		if b.Get(emailKey(email)) == nil {
			return ErrNotFound
		}
		return b.Delete(emailKey(email))
	})
}

// ZoneOwners maps each canonical zone name to its student, for lookups by
// the reconciler and the verifier.
func ZoneOwners(students []Student) map[string]Student {
	owners := make(map[string]Student, len(students))
	for _, st := range students {
		owners[arpa.Fqdn(st.DNSZone)] = st
	}
	return owners
}
