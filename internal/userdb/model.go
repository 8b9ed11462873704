package userdb

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Table names inside a snapshot, in the fixed parent-before-child apply
// order: cards reference profiles, subscriptions reference both.
const (
	TableProfile          = "Profile"
	TableCard             = "Card"
	TableCardSubscription = "CardSubscription"
)

// TableOrder lists snapshot tables in foreign-key dependency order.
var TableOrder = []string{TableProfile, TableCard, TableCardSubscription}

var (
	// ErrUnknownTable indicates a changelog references a table the snapshot does not have.
	ErrUnknownTable = errors.New("userdb: unknown table")
	// ErrUnknownColumn indicates a changelog or authoritative record carries a column no table defines.
	ErrUnknownColumn = errors.New("userdb: unknown column")
	// ErrColumnValue indicates a column value could not be coerced to the column's type.
	ErrColumnValue = errors.New("userdb: invalid column value")
)

// Profile models one profile row. Date columns are stored as unix seconds.
type Profile struct {
	UUID        int64   `gorm:"column:uuid;primaryKey;autoIncrement;not null"`
	Name        string  `gorm:"column:name;type:text;not null"`
	Email       *string `gorm:"column:email;type:text"`
	Phone       *string `gorm:"column:phone;type:text"`
	SNS         *string `gorm:"column:sns;type:text"`
	Description *string `gorm:"column:description;type:text"`
	Data        string  `gorm:"column:data;type:text;not null"`

	CommitID          string  `gorm:"column:commit_id;type:text;not null"`
	CreatedAtSeconds  int64   `gorm:"column:created_at;not null"`
	ModifiedAtSeconds int64   `gorm:"column:modified_at;not null"`
	DeletedAtSeconds  *int64  `gorm:"column:deleted_at"`
	WhyDeleted        *string `gorm:"column:why_deleted;type:text"`

	Guestbook    *int64 `gorm:"column:guestbook"`
	Announcement *int64 `gorm:"column:announcement"`

	Private bool `gorm:"column:private;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "TB_PROFILE"
}

// Card models one card row owned by a profile.
type Card struct {
	UUID       int64  `gorm:"column:uuid;primaryKey;autoIncrement;not null"`
	Name       string `gorm:"column:name;type:text;not null"`
	Data       string `gorm:"column:data;type:text;not null;unique"`
	PreviewURL string `gorm:"column:preview_url;type:text;not null;unique"`

	CommitID          string  `gorm:"column:commit_id;type:text;not null"`
	CreatedAtSeconds  int64   `gorm:"column:created_at;not null"`
	ModifiedAtSeconds int64   `gorm:"column:modified_at;not null"`
	DeletedAtSeconds  *int64  `gorm:"column:deleted_at"`
	WhyDeleted        *string `gorm:"column:why_deleted;type:text"`

	Private bool `gorm:"column:private;not null;default:false"`

	ProfileID int64 `gorm:"column:profile_id;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Card) TableName() string {
	return "TB_CARD"
}

// CardSubscription models one profile's subscription to a card.
type CardSubscription struct {
	UUID             int64  `gorm:"column:uuid;primaryKey;autoIncrement;not null"`
	CommitID         string `gorm:"column:commit_id;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at;not null"`

	ProfileID int64 `gorm:"column:profile_id;not null;index"`
	CardID    int64 `gorm:"column:card_id;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (CardSubscription) TableName() string {
	return "TB_CARD_SUBSCRIPTION"
}

// SetColumn assigns a changelog or authoritative value to the named column.
// Unknown column names are rejected rather than ignored.
func (p *Profile) SetColumn(name string, value any) error {
	var err error
	switch name {
	case "uuid":
		err = assignInt64(&p.UUID, value)
	case "name":
		err = assignString(&p.Name, value)
	case "email":
		err = assignStringPtr(&p.Email, value)
	case "phone":
		err = assignStringPtr(&p.Phone, value)
	case "sns":
		err = assignStringPtr(&p.SNS, value)
	case "description":
		err = assignStringPtr(&p.Description, value)
	case "data":
		err = assignString(&p.Data, value)
	case "commit_id":
		err = assignString(&p.CommitID, value)
	case "created_at":
		err = assignTime(&p.CreatedAtSeconds, value)
	case "modified_at":
		err = assignTime(&p.ModifiedAtSeconds, value)
	case "deleted_at":
		err = assignTimePtr(&p.DeletedAtSeconds, value)
	case "why_deleted":
		err = assignStringPtr(&p.WhyDeleted, value)
	case "guestbook":
		err = assignInt64Ptr(&p.Guestbook, value)
	case "announcement":
		err = assignInt64Ptr(&p.Announcement, value)
	case "private":
		err = assignBool(&p.Private, value)
	default:
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, TableProfile, name)
	}
	if err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	return nil
}

// SetColumn assigns a changelog or authoritative value to the named column.
func (c *Card) SetColumn(name string, value any) error {
	var err error
	switch name {
	case "uuid":
		err = assignInt64(&c.UUID, value)
	case "name":
		err = assignString(&c.Name, value)
	case "data":
		err = assignString(&c.Data, value)
	case "preview_url":
		err = assignString(&c.PreviewURL, value)
	case "commit_id":
		err = assignString(&c.CommitID, value)
	case "created_at":
		err = assignTime(&c.CreatedAtSeconds, value)
	case "modified_at":
		err = assignTime(&c.ModifiedAtSeconds, value)
	case "deleted_at":
		err = assignTimePtr(&c.DeletedAtSeconds, value)
	case "why_deleted":
		err = assignStringPtr(&c.WhyDeleted, value)
	case "private":
		err = assignBool(&c.Private, value)
	case "profile_id":
		err = assignInt64(&c.ProfileID, value)
	default:
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, TableCard, name)
	}
	if err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	return nil
}

// SetColumn assigns a changelog or authoritative value to the named column.
func (s *CardSubscription) SetColumn(name string, value any) error {
	var err error
	switch name {
	case "uuid":
		err = assignInt64(&s.UUID, value)
	case "commit_id":
		err = assignString(&s.CommitID, value)
	case "created_at":
		err = assignTime(&s.CreatedAtSeconds, value)
	case "profile_id":
		err = assignInt64(&s.ProfileID, value)
	case "card_id":
		err = assignInt64(&s.CardID, value)
	default:
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, TableCardSubscription, name)
	}
	if err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	return nil
}

// tableRow is one typed snapshot row the applier can populate column by column.
type tableRow interface {
	SetColumn(name string, value any) error
}

// tableBinding wires a logical table name to its typed GORM operations.
type tableBinding struct {
	name   string
	newRow func(id int64) tableRow
	load   func(tx *gorm.DB, id int64) (tableRow, bool, error)
	remove func(tx *gorm.DB, id int64) error
}

func bindingFor(table string) (tableBinding, bool) {
	switch table {
	case TableProfile:
		return tableBinding{
			name:   TableProfile,
			newRow: func(id int64) tableRow { return &Profile{UUID: id} },
			load: func(tx *gorm.DB, id int64) (tableRow, bool, error) {
				var row Profile
				return loadRow(tx, &row, id)
			},
			remove: func(tx *gorm.DB, id int64) error {
				return tx.Delete(&Profile{}, "uuid = ?", id).Error
			},
		}, true
	case TableCard:
		return tableBinding{
			name:   TableCard,
			newRow: func(id int64) tableRow { return &Card{UUID: id} },
			load: func(tx *gorm.DB, id int64) (tableRow, bool, error) {
				var row Card
				return loadRow(tx, &row, id)
			},
			remove: func(tx *gorm.DB, id int64) error {
				return tx.Delete(&Card{}, "uuid = ?", id).Error
			},
		}, true
	case TableCardSubscription:
		return tableBinding{
			name:   TableCardSubscription,
			newRow: func(id int64) tableRow { return &CardSubscription{UUID: id} },
			load: func(tx *gorm.DB, id int64) (tableRow, bool, error) {
				var row CardSubscription
				return loadRow(tx, &row, id)
			},
			remove: func(tx *gorm.DB, id int64) error {
				return tx.Delete(&CardSubscription{}, "uuid = ?", id).Error
			},
		}, true
	default:
		return tableBinding{}, false
	}
}

func loadRow[T any](tx *gorm.DB, dest *T, id int64) (tableRow, bool, error) {
	err := tx.Take(dest, "uuid = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	row, ok := any(dest).(tableRow)
	if !ok {
		return nil, false, fmt.Errorf("userdb: %T does not implement column assignment", dest)
	}
	return row, true, nil
}
