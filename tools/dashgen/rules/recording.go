package rules

// RecordingRules returns a PrometheusRule CR containing pre-computed rate
// expressions used by dashboards and alert rules.
func RecordingRules() PrometheusRule {
	return PrometheusRule{
		APIVersion: "monitoring.coreos.com/v1",
		Kind:       "PrometheusRule",
		Metadata: PrometheusRuleMetadata{
			Name: "pw-recording-rules",
			Labels: map[string]string{
				"prometheus": "system-rules-prometheus",
			},
		},
		Spec: PrometheusRuleSpec{
			Groups: []RuleGroup{
				{
					Name: "pw-recording",
					Rules: []Rule{
						{
							Record: "pw:http_requests:rate5m",
							Expr:   `sum(rate(pw_http_requests_total[5m]))`,
						},
						{
							Record: "pw:http_errors:rate5m",
							Expr:   `sum(rate(pw_http_requests_total{status=~"5.."}[5m]))`,
						},
						{
							Record: "pw:checks:rate5m",
							Expr:   `sum(rate(pw_checks_total[5m]))`,
						},
						{
							Record: "pw:check_failures:rate5m",
							Expr:   `sum(rate(pw_checks_total{outcome=~".*_failed"}[5m]))`,
						},
						{
							Record: "pw:fetch_blocked:rate5m",
							Expr:   `sum(rate(pw_fetch_errors_total{kind="blocked_by_site"}[5m]))`,
						},
						{
							Record: "pw:extraction_failures:rate5m",
							Expr:   `sum(rate(pw_extraction_failures_total[5m]))`,
						},
						{
							Record: "pw:notification_duration:p95_5m",
							Expr:   `histogram_quantile(0.95, sum(rate(pw_notification_duration_seconds_bucket[5m])) by (le, backend))`,
						},
					},
				},
			},
		},
	}
}
