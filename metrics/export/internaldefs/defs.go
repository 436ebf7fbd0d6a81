package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/passkit/metrics"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   metrics.ID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: metrics.UserRegistered, Name: "passkit_user_registered_total", Help: "Registered accounts."},
	{ID: metrics.LoginSuccess, Name: "passkit_login_success_total", Help: "Successful logins."},
	{ID: metrics.LoginFailure, Name: "passkit_login_failure_total", Help: "Failed logins."},
	{ID: metrics.LoginThrottled, Name: "passkit_login_throttled_total", Help: "Logins rejected by the login throttle."},
	{ID: metrics.Logout, Name: "passkit_logout_total", Help: "Logouts."},
	{ID: metrics.SessionCreated, Name: "passkit_session_created_total", Help: "Created sessions."},
	{ID: metrics.SessionDeleted, Name: "passkit_session_deleted_total", Help: "Deleted sessions."},
	{ID: metrics.SessionRevokedAll, Name: "passkit_session_revoked_all_total", Help: "Revoke-all operations."},
	{ID: metrics.SessionTouchFailed, Name: "passkit_session_touch_failed_total", Help: "Best-effort session refreshes that failed."},
	{ID: metrics.OTPIssued, Name: "passkit_otp_issued_total", Help: "Issued one-time codes."},
	{ID: metrics.OTPVerified, Name: "passkit_otp_verified_total", Help: "Accepted one-time codes."},
	{ID: metrics.OTPRejected, Name: "passkit_otp_rejected_total", Help: "Rejected one-time codes."},
	{ID: metrics.OTPLocked, Name: "passkit_otp_locked_total", Help: "Verifications refused after the attempt budget ran out."},
	{ID: metrics.OTPResendLimited, Name: "passkit_otp_resend_limited_total", Help: "Code issues refused by the resend limit."},
	{ID: metrics.EmailVerified, Name: "passkit_email_verified_total", Help: "Verified email addresses."},
	{ID: metrics.PasswordResetRequested, Name: "passkit_password_reset_requested_total", Help: "Password reset requests."},
	{ID: metrics.PasswordResetCompleted, Name: "passkit_password_reset_completed_total", Help: "Completed password resets."},
	{ID: metrics.EmailChangeRequested, Name: "passkit_email_change_requested_total", Help: "Email change requests."},
	{ID: metrics.EmailChangeConfirmed, Name: "passkit_email_change_confirmed_total", Help: "Confirmed email changes."},
	{ID: metrics.JobEnqueued, Name: "passkit_job_enqueued_total", Help: "Enqueued delivery jobs."},
	{ID: metrics.JobCompleted, Name: "passkit_job_completed_total", Help: "Completed delivery jobs."},
	{ID: metrics.JobRetried, Name: "passkit_job_retried_total", Help: "Delivery attempts rescheduled with backoff."},
	{ID: metrics.JobFailed, Name: "passkit_job_failed_total", Help: "Delivery jobs that failed permanently."},
	{ID: metrics.JobStalled, Name: "passkit_job_stalled_total", Help: "Jobs recovered from expired leases."},
	{ID: metrics.JobLeaseLost, Name: "passkit_job_lease_lost_total", Help: "Handlers that finished after losing their lease."},
}

var HistogramDefs = []HistogramDef{
	{ID: metrics.JobDuration, Name: "passkit_job_duration_seconds", Help: "Delivery attempt duration."},
}

// HistogramBounds are the Prometheus le labels for metrics.BucketBounds.
var HistogramBounds = boundLabels()

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = boundSuffixes()

func boundLabels() []string {
	out := make([]string, 0, metrics.BucketCount)
	for _, b := range metrics.BucketBounds {
		out = append(out, strconv.FormatFloat(b.Seconds(), 'f', -1, 64))
	}
	return append(out, "+Inf")
}

func boundSuffixes() []string {
	labels := boundLabels()
	out := make([]string, len(labels))
	for i, l := range labels {
		if l == "+Inf" {
			out[i] = "inf"
			continue
		}
		out[i] = strings.ReplaceAll(l, ".", "_")
	}
	return out
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [metrics.BucketCount]uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}
