package rules

// AlertRules returns a PrometheusRule CR containing alert rules for
// price-watch operational monitoring.
func AlertRules() PrometheusRule {
	return PrometheusRule{
		APIVersion: "monitoring.coreos.com/v1",
		Kind:       "PrometheusRule",
		Metadata: PrometheusRuleMetadata{
			Name: "pw-alerts",
			Labels: map[string]string{
				"prometheus": "system-rules-prometheus",
			},
		},
		Spec: PrometheusRuleSpec{
			Groups: []RuleGroup{
				{
					Name: "pw-alerts",
					Rules: []Rule{
						{
							Alert: "PriceWatchDown",
							Expr:  `absent(up{job="price-watch"})`,
							For:   "2m",
							Labels: map[string]string{
								"severity": "critical",
							},
							Annotations: map[string]string{
								"summary":     "Price Watch is down",
								"description": "The price-watch job has been absent for more than 2 minutes.",
							},
						},
						{
							Alert: "PriceWatchReadinessDown",
							Expr:  `pw_readyz_up == 0`,
							For:   "2m",
							Labels: map[string]string{
								"severity": "critical",
							},
							Annotations: map[string]string{
								"summary":     "Price Watch readiness check is failing",
								"description": "The readiness probe has been reporting not-ready for more than 2 minutes.",
							},
						},
						{
							Alert: "PriceWatchSchedulerStalled",
							Expr:  `time() - pw_scheduler_last_scan_timestamp > 900`,
							For:   "5m",
							Labels: map[string]string{
								"severity": "critical",
							},
							Annotations: map[string]string{
								"summary":     "Scheduler has stopped scanning",
								"description": "No scheduler scan has completed in the last 15 minutes, so no product is being polled.",
							},
						},
						{
							Alert: "PriceWatchHighErrorRate",
							Expr:  `pw:http_errors:rate5m / pw:http_requests:rate5m > 0.05`,
							For:   "5m",
							Labels: map[string]string{
								"severity": "warning",
							},
							Annotations: map[string]string{
								"summary":     "High API error rate on Price Watch",
								"description": "More than 5% of API requests are returning 5xx errors over the last 5 minutes.",
							},
						},
						{
							Alert: "PriceWatchCheckFailures",
							Expr:  `pw:check_failures:rate5m / pw:checks:rate5m > 0.5`,
							For:   "15m",
							Labels: map[string]string{
								"severity": "warning",
							},
							Annotations: map[string]string{
								"summary":     "Most product checks are failing",
								"description": "More than half of product checks failed over the last 15 minutes.",
							},
						},
						{
							Alert: "PriceWatchProductsDegraded",
							Expr:  `pw_products_degraded > 0`,
							For:   "1h",
							Labels: map[string]string{
								"severity": "warning",
							},
							Annotations: map[string]string{
								"summary":     "Tracked products are degraded",
								"description": "One or more products have failed repeatedly for over an hour; check their site rules.",
							},
						},
						{
							Alert: "PriceWatchBlockedBySite",
							Expr:  `pw:fetch_blocked:rate5m > 0.05`,
							For:   "15m",
							Labels: map[string]string{
								"severity": "warning",
							},
							Annotations: map[string]string{
								"summary":     "Sites are serving bot walls",
								"description": "Fetches are being blocked by anti-bot pages; consider browser mode for the affected rules.",
							},
						},
						{
							Alert: "PriceWatchNotificationFailures",
							Expr:  `increase(pw_notification_failures_total[5m]) > 0`,
							For:   "1m",
							Labels: map[string]string{
								"severity": "warning",
							},
							Annotations: map[string]string{
								"summary":     "Notification delivery failures detected",
								"description": "One or more price alerts (Discord or email) have failed to send.",
							},
						},
					},
				},
			},
		},
	}
}
