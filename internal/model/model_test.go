package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCertificateEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := func(d time.Duration) *time.Time {
		e := now.Add(d)
		return &e
	}

	tests := []struct {
		name   string
		status CertificateStatus
		expiry *time.Time
		want   CertificateStatus
	}{
		{
			name:   "valid without expiry",
			status: CertificateStatusValid,
			want:   CertificateStatusValid,
		},
		{
			name:   "valid far from expiry",
			status: CertificateStatusValid,
			expiry: expiry(90 * 24 * time.Hour),
			want:   CertificateStatusValid,
		},
		{
			name:   "expiring within 30 days",
			status: CertificateStatusValid,
			expiry: expiry(10 * 24 * time.Hour),
			want:   CertificateStatusExpiringSoon,
		},
		{
			name:   "expiring exactly at window boundary",
			status: CertificateStatusValid,
			expiry: expiry(30 * 24 * time.Hour),
			want:   CertificateStatusExpiringSoon,
		},
		{
			name:   "expired",
			status: CertificateStatusValid,
			expiry: expiry(-time.Hour),
			want:   CertificateStatusExpired,
		},
		{
			name:   "expired at exact expiry instant",
			status: CertificateStatusValid,
			expiry: expiry(0),
			want:   CertificateStatusExpired,
		},
		{
			name:   "pending ignores expiry",
			status: CertificateStatusPending,
			expiry: expiry(-time.Hour),
			want:   CertificateStatusPending,
		},
		{
			name:   "rejected ignores expiry",
			status: CertificateStatusRejected,
			expiry: expiry(-time.Hour),
			want:   CertificateStatusRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Certificate{
				Quantity:   decimal.NewFromInt(1),
				Status:     tt.status,
				ExpiryDate: tt.expiry,
			}
			if got := c.EffectiveStatus(now); got != tt.want {
				t.Fatalf("EffectiveStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCallerIsAdmin(t *testing.T) {
	if (Caller{UserID: 1, Role: RoleUser}).IsAdmin() {
		t.Fatalf("USER role must not be admin")
	}
	if !(Caller{UserID: 1, Role: RoleAdmin}).IsAdmin() {
		t.Fatalf("ADMIN role must be admin")
	}
}
