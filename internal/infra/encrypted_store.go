package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const storeDBName = "nightmode.db"

// Preference keys as persisted.
const (
	KeyMode            = "mode"
	KeyWhitelist       = "whitelist"
	KeyTimeBuckets     = "time_buckets"
	KeyScheduleEnabled = "schedule_enabled"
	KeyAlpha           = "alpha"
	KeyColor           = "color"
	KeyNotification    = "notification"
	KeyFloatWidget     = "float_widget"
	KeyAutoStart       = "auto_start"
	KeyServiceRunning  = "service_running"
)

// ErrNotRegistered is returned when a daemon role has no registry row.
var ErrNotRegistered = errors.New("daemon not registered")

// EncryptedStore implements domain.ConfigStore and domain.DaemonRegistry
// on a SQLCipher encrypted SQLite database.
type EncryptedStore struct {
	db             *sql.DB
	dbPath         string
	processManager domain.ProcessManager
}

// NewEncryptedStore opens (or creates) the store in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte, pm domain.ProcessManager) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on the first real query.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{
		db:             db,
		dbPath:         dbPath,
		processManager: pm,
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// OpenStore opens the store in dataDir, creating the key on first use.
func OpenStore(dataDir string, pm domain.ProcessManager) (*EncryptedStore, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to get store key: %w", err)
	}
	return NewEncryptedStore(dataDir, key, pm)
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daemon_state (
		role TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		app_version TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.ConfigStore implementation ---

// LoadPreferences returns stored preferences; missing or unreadable keys keep their defaults.
func (s *EncryptedStore) LoadPreferences() (domain.Preferences, error) {
	prefs := domain.DefaultPreferences()

	rows, err := s.db.Query(`SELECT key, value FROM preferences`)
	if err != nil {
		return prefs, fmt.Errorf("failed to read preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return prefs, fmt.Errorf("failed to read preferences: %w", err)
		}
		decodePreference(&prefs, key, value)
	}
	return prefs, rows.Err()
}

// SavePreferences writes every preference key in one transaction.
func (s *EncryptedStore) SavePreferences(p domain.Preferences) error {
	return s.put(encodePreferences(p))
}

// SavePreference writes only the keys behind tag.
func (s *EncryptedStore) SavePreference(tag domain.PreferenceTag, p domain.Preferences) error {
	all := encodePreferences(p)
	keys := keysForTag(tag)
	if len(keys) == 0 {
		return fmt.Errorf("unknown preference %q", tag)
	}

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		values[k] = all[k]
	}
	return s.put(values)
}

// SetServiceRunning records whether the user wants the service running.
func (s *EncryptedStore) SetServiceRunning(running bool) error {
	return s.put(map[string]string{KeyServiceRunning: strconv.FormatBool(running)})
}

func (s *EncryptedStore) put(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for k, v := range values {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO preferences (key, value, updated_at) VALUES (?, ?, ?)`,
			k, v, now); err != nil {
			return fmt.Errorf("failed to save %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func keysForTag(tag domain.PreferenceTag) []string {
	switch tag {
	case domain.TagMode:
		return []string{KeyMode}
	case domain.TagWhitelist:
		return []string{KeyWhitelist}
	case domain.TagAlpha:
		return []string{KeyAlpha}
	case domain.TagColor:
		return []string{KeyColor}
	case domain.TagNotification:
		return []string{KeyNotification}
	case domain.TagFloatWidget:
		return []string{KeyFloatWidget}
	case domain.TagSchedule:
		return []string{KeyScheduleEnabled, KeyTimeBuckets}
	case domain.TagAutoStart:
		return []string{KeyAutoStart}
	}
	return nil
}

func encodePreferences(p domain.Preferences) map[string]string {
	return map[string]string{
		KeyMode:            strconv.Itoa(int(p.Mode)),
		KeyWhitelist:       p.Whitelist,
		KeyTimeBuckets:     p.TimeBuckets,
		KeyScheduleEnabled: strconv.FormatBool(p.ScheduleEnabled),
		KeyAlpha:           strconv.FormatFloat(p.Alpha, 'f', -1, 64),
		KeyColor:           fmt.Sprintf("0x%08X", p.Color),
		KeyNotification:    strconv.FormatBool(p.Notification),
		KeyFloatWidget:     strconv.FormatBool(p.FloatWidget),
		KeyAutoStart:       strconv.FormatBool(p.AutoStart),
		KeyServiceRunning:  strconv.FormatBool(p.ServiceRunning),
	}
}

func decodePreference(p *domain.Preferences, key, value string) {
	switch key {
	case KeyMode:
		if m, err := domain.ParseMode(value); err == nil {
			p.Mode = m
		}
	case KeyWhitelist:
		p.Whitelist = value
	case KeyTimeBuckets:
		p.TimeBuckets = value
	case KeyScheduleEnabled:
		decodeBool(&p.ScheduleEnabled, value)
	case KeyAlpha:
		if a, err := strconv.ParseFloat(value, 64); err == nil && a >= 0 && a <= 1 {
			p.Alpha = a
		}
	case KeyColor:
		if c, err := strconv.ParseUint(value, 0, 32); err == nil {
			p.Color = uint32(c)
		}
	case KeyNotification:
		decodeBool(&p.Notification, value)
	case KeyFloatWidget:
		decodeBool(&p.FloatWidget, value)
	case KeyAutoStart:
		decodeBool(&p.AutoStart, value)
	case KeyServiceRunning:
		decodeBool(&p.ServiceRunning, value)
	}
}

func decodeBool(dst *bool, value string) {
	if b, err := strconv.ParseBool(value); err == nil {
		*dst = b
	}
}

// --- domain.DaemonRegistry implementation ---

// Register saves the daemon's PID.
func (s *EncryptedStore) Register(daemon domain.Daemon) error {
	now := time.Now().Unix()
	started := now
	if !daemon.StartedAt.IsZero() {
		started = daemon.StartedAt.Unix()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_state (role, pid, started_at, last_heartbeat, app_version)
		VALUES (?, ?, ?, ?, ?)`,
		string(daemon.Role), daemon.PID, started, now, daemon.AppVersion,
	)
	return err
}

// Unregister removes the daemon's row.
func (s *EncryptedStore) Unregister(role domain.DaemonRole) error {
	_, err := s.db.Exec(`DELETE FROM daemon_state WHERE role = ?`, string(role))
	return err
}

// Get returns the registered daemon for role.
func (s *EncryptedStore) Get(role domain.DaemonRole) (*domain.Daemon, error) {
	var pid int
	var started int64
	var version string
	err := s.db.QueryRow(`SELECT pid, started_at, app_version FROM daemon_state WHERE role = ?`,
		string(role)).Scan(&pid, &started, &version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && pid == 0) {
		return nil, fmt.Errorf("%s: %w", role, ErrNotRegistered)
	}
	if err != nil {
		return nil, err
	}

	return &domain.Daemon{
		PID:        pid,
		Role:       role,
		StartedAt:  time.Unix(started, 0),
		AppVersion: version,
	}, nil
}

// GetPartner returns the partner daemon info (service<->guardian).
func (s *EncryptedStore) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	partner := domain.RoleGuardian
	if role == domain.RoleGuardian {
		partner = domain.RoleService
	}
	return s.Get(partner)
}

// UpdateHeartbeat updates timestamp for liveness check.
func (s *EncryptedStore) UpdateHeartbeat(role domain.DaemonRole) error {
	result, err := s.db.Exec(`UPDATE daemon_state SET last_heartbeat = ? WHERE role = ?`,
		time.Now().Unix(), string(role))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s: %w", role, ErrNotRegistered)
	}
	return nil
}

// IsPartnerAlive checks if partner daemon is running via PID.
func (s *EncryptedStore) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	partner, err := s.GetPartner(role)
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.processManager.IsRunning(partner.PID), nil
}

// GetAll returns full registry state (for status command), nil if nothing is registered.
func (s *EncryptedStore) GetAll() (*domain.RegistryEntry, error) {
	rows, err := s.db.Query(`SELECT role, pid, last_heartbeat, app_version FROM daemon_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entry := &domain.RegistryEntry{}
	found := false
	for rows.Next() {
		var role, appVersion string
		var pid int
		var heartbeat int64
		if err := rows.Scan(&role, &pid, &heartbeat, &appVersion); err != nil {
			return nil, err
		}
		found = true
		switch domain.DaemonRole(role) {
		case domain.RoleService:
			entry.ServicePID = pid
			entry.AppVersion = appVersion
		case domain.RoleGuardian:
			entry.GuardianPID = pid
		}
		if heartbeat > entry.LastHeartbeat {
			entry.LastHeartbeat = heartbeat
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return entry, nil
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ domain.ConfigStore    = (*EncryptedStore)(nil)
	_ domain.DaemonRegistry = (*EncryptedStore)(nil)
)
