package core

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/pacgate/internal/model"
	"github.com/edvin/pacgate/internal/platform"
)

// DeviceService owns device identities, their access tokens, and IP
// allow-lists.
type DeviceService struct {
	db TxDB
}

func NewDeviceService(db TxDB) *DeviceService {
	return &DeviceService{db: db}
}

const deviceColumns = `id, name, type, token_prefix, allowed_ips, enabled, created_at, updated_at`

func scanDevice(row pgx.Row) (*model.Device, error) {
	var d model.Device
	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.TokenPrefix, &d.AllowedIPs, &d.Enabled, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create registers a device and returns it along with the raw access token.
// The raw token is shown to the administrator exactly once; only its hash is
// stored.
func (s *DeviceService) Create(ctx context.Context, name string, deviceType model.DeviceType, allowedIPs []string) (*model.Device, string, error) {
	if err := validateAllowList(allowedIPs); err != nil {
		return nil, "", err
	}

	rawToken, err := platform.NewToken()
	if err != nil {
		return nil, "", err
	}

	id := platform.NewID()
	if allowedIPs == nil {
		allowedIPs = []string{}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO devices (id, name, type, token_hash, token_prefix, allowed_ips, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now())`,
		id, name, deviceType, platform.HashToken(rawToken), platform.TokenPrefix(rawToken), allowedIPs,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert device: %w", err)
	}

	device, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return device, rawToken, nil
}

// GetByID retrieves a device by its ID.
func (s *DeviceService) GetByID(ctx context.Context, id string) (*model.Device, error) {
	d, err := scanDevice(s.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return d, nil
}

// List retrieves devices with cursor-based pagination, ordered by ID.
func (s *DeviceService) List(ctx context.Context, limit int, cursor string) ([]model.Device, bool, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	args := []any{}
	if cursor != "" {
		query += ` WHERE id > $1`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Type, &d.TokenPrefix, &d.AllowedIPs, &d.Enabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, false, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate devices: %w", err)
	}

	hasMore := len(devices) > limit
	if hasMore {
		devices = devices[:limit]
	}
	return devices, hasMore, nil
}

// Update modifies a device's name and type.
func (s *DeviceService) Update(ctx context.Context, id, name string, deviceType model.DeviceType) (*model.Device, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE devices SET name = $1, type = $2, updated_at = now() WHERE id = $3`,
		name, deviceType, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return s.GetByID(ctx, id)
}

// SetAllowedIPs replaces the device's IP allow-list. An empty list means
// unrestricted.
func (s *DeviceService) SetAllowedIPs(ctx context.Context, id string, allowedIPs []string) (*model.Device, error) {
	if err := validateAllowList(allowedIPs); err != nil {
		return nil, err
	}
	if allowedIPs == nil {
		allowedIPs = []string{}
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE devices SET allowed_ips = $1, updated_at = now() WHERE id = $2`,
		allowedIPs, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set allow-list for device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return s.GetByID(ctx, id)
}

// SetEnabled enables or disables a device. Disabled devices fail every
// Access Gate check.
func (s *DeviceService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE devices SET enabled = $1, updated_at = now() WHERE id = $2`,
		enabled, id,
	)
	if err != nil {
		return fmt.Errorf("set enabled for device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a device. Usage records keep a null device reference.
func (s *DeviceService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

// Counts returns the total and enabled device counts for the dashboard.
func (s *DeviceService) Counts(ctx context.Context) (total, enabled int64, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE enabled) FROM devices`,
	).Scan(&total, &enabled)
	if err != nil {
		return 0, 0, fmt.Errorf("count devices: %w", err)
	}
	return total, enabled, nil
}

// ResolveByToken looks up a device by exact token hash. A token that matches
// a revoked hash yields ErrTokenRevoked; any other miss yields
// ErrTokenNotFound. No partial or prefix matching.
func (s *DeviceService) ResolveByToken(ctx context.Context, rawToken string) (*model.Device, error) {
	if rawToken == "" || len(rawToken) > platform.MaxTokenLength {
		return nil, ErrTokenNotFound
	}
	hash := platform.HashToken(rawToken)

	d, err := scanDevice(s.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE token_hash = $1`, hash))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	var revokedDeviceID string
	err = s.db.QueryRow(ctx,
		`SELECT device_id FROM revoked_tokens WHERE token_hash = $1`, hash,
	).Scan(&revokedDeviceID)
	if err == nil {
		return nil, ErrTokenRevoked
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check revoked token: %w", err)
	}
	return nil, ErrTokenNotFound
}

// RotateToken replaces the device's token in a single transaction. The old
// token is recorded as revoked, so validations racing the rotation fail with
// ErrTokenRevoked once the transaction commits.
func (s *DeviceService) RotateToken(ctx context.Context, id string) (string, error) {
	rawToken, err := platform.NewToken()
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin rotate token: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldHash string
	err = tx.QueryRow(ctx,
		`SELECT token_hash FROM devices WHERE id = $1 FOR UPDATE`, id,
	).Scan(&oldHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("device %s: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("lock device %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO revoked_tokens (token_hash, device_id, revoked_at) VALUES ($1, $2, now())`,
		oldHash, id,
	); err != nil {
		return "", fmt.Errorf("record revoked token: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE devices SET token_hash = $1, token_prefix = $2, updated_at = now() WHERE id = $3`,
		platform.HashToken(rawToken), platform.TokenPrefix(rawToken), id,
	); err != nil {
		return "", fmt.Errorf("update device token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit rotate token: %w", err)
	}
	return rawToken, nil
}

// IsIPAllowed reports whether sourceIP may fetch the device's PAC document.
// An empty allow-list permits any source IP. Entries are exact addresses or
// CIDR prefixes; unparseable entries are skipped.
func IsIPAllowed(device *model.Device, sourceIP string) bool {
	if len(device.AllowedIPs) == 0 {
		return true
	}

	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range device.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if allowed.Unmap() == addr {
			return true
		}
	}
	return false
}

// validateAllowList rejects allow-list entries that are neither an IP address
// nor a CIDR prefix, so bad entries fail loudly at write time instead of
// silently at match time.
func validateAllowList(entries []string) error {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return fmt.Errorf("invalid allow-list entry %q: %w", entry, err)
			}
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("invalid allow-list entry %q: %w", entry, err)
		}
	}
	return nil
}
