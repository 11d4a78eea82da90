package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/example/face-auth/internal/biometric"
)

// ReferenceVectorCount is the number of reference vectors a registered user carries.
const ReferenceVectorCount = 5

// ErrPartialEncodings is returned when a user would be saved with a
// reference vector count other than 0 or ReferenceVectorCount.
var ErrPartialEncodings = errors.New("repository: user must have 0 or 5 face encodings")

// NaturalKey identifies a user. Comparison is case-insensitive.
type NaturalKey struct {
	StudentID           string
	MatriculationNumber string
}

// Normalized returns the comparison form of the key.
func (k NaturalKey) Normalized() NaturalKey {
	return NaturalKey{
		StudentID:           strings.ToLower(strings.TrimSpace(k.StudentID)),
		MatriculationNumber: strings.ToLower(strings.TrimSpace(k.MatriculationNumber)),
	}
}

// Valid reports whether both parts are present.
func (k NaturalKey) Valid() bool {
	n := k.Normalized()
	return n.StudentID != "" && n.MatriculationNumber != ""
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s/%s", k.StudentID, k.MatriculationNumber)
}

// Profile holds the descriptive user fields.
type Profile struct {
	FirstName       string `gorm:"column:firstname;size:128" json:"firstname"`
	MiddleName      string `gorm:"column:middlename;size:128" json:"middlename,omitempty"`
	LastName        string `gorm:"column:lastname;size:128" json:"lastname"`
	DateOfBirth     string `gorm:"column:date_of_birth;size:32" json:"date_of_birth"`
	Email           string `gorm:"column:email;size:255;index" json:"email"`
	PhoneNumber     string `gorm:"column:phone_number;size:32" json:"phone_number"`
	Faculty         string `gorm:"column:faculty;size:128" json:"faculty"`
	Department      string `gorm:"column:department;size:128" json:"department"`
	Level           string `gorm:"column:level;size:32" json:"level"`
	AcademicSession string `gorm:"column:academic_session;size:32" json:"academic_session"`
}

// User is a registered person and their reference face vectors.
// StudentIDKey and MatriculationKey hold the lowercased natural key; their
// composite unique index makes the key case-insensitive.
type User struct {
	ID                  uint               `gorm:"primaryKey"`
	StudentID           string             `gorm:"column:student_id;size:64;not null"`
	MatriculationNumber string             `gorm:"column:matriculation_number;size:64;not null"`
	StudentIDKey        string             `gorm:"column:student_id_key;size:64;not null;uniqueIndex:idx_users_natural_key"`
	MatriculationKey    string             `gorm:"column:matriculation_key;size:64;not null;uniqueIndex:idx_users_natural_key"`
	Profile             Profile            `gorm:"embedded"`
	Passport            string             `gorm:"column:passport;size:512"`
	FaceEncodings       []biometric.Vector `gorm:"column:face_encodings;type:jsonb;serializer:json"`
	Sessions            []Session          `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time          `gorm:"column:created_at"`
	UpdatedAt           time.Time          `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// Key returns the user's natural key as submitted.
func (u *User) Key() NaturalKey {
	return NaturalKey{StudentID: u.StudentID, MatriculationNumber: u.MatriculationNumber}
}

// BeforeSave keeps the key columns in sync and rejects partial registrations.
func (u *User) BeforeSave(*gorm.DB) error {
	n := u.Key().Normalized()
	u.StudentIDKey = n.StudentID
	u.MatriculationKey = n.MatriculationNumber
	if c := len(u.FaceEncodings); c != 0 && c != ReferenceVectorCount {
		return fmt.Errorf("%w: got %d", ErrPartialEncodings, c)
	}
	return nil
}

// Session is an issued bearer token.
type Session struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"column:user_id;not null;index"`
	Token      string    `gorm:"column:session_token;size:128;not null;uniqueIndex"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
	Expiration time.Time `gorm:"column:expiration;not null;index"`
}

// TableName overrides the default table name.
func (Session) TableName() string {
	return "sessions"
}

// Live reports whether the session is valid at now.
func (s *Session) Live(now time.Time) bool {
	return now.Before(s.Expiration)
}

// VerificationLog records one login attempt. AttemptID is generated by the
// server; RequestID only correlates the row with request logs and may repeat.
type VerificationLog struct {
	ID           uint      `gorm:"primaryKey"`
	AttemptID    string    `gorm:"column:attempt_id;uniqueIndex;size:36;not null"`
	RequestID    string    `gorm:"column:request_id;index;size:64"`
	UserID       uint      `gorm:"column:user_id;index"`
	Success      bool      `gorm:"column:success"`
	Matches      int       `gorm:"column:matches"`
	BestDistance float64   `gorm:"column:best_distance"`
	ProbeFaces   int       `gorm:"column:probe_faces"`
	SHA1Hash     string    `gorm:"column:sha1_hash;size:40;index"`
	Details      string    `gorm:"column:details;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationLog) TableName() string {
	return "verification_logs"
}
