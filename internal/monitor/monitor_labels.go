package monitor

type HTTPRequestLabels struct {
	Status string
	Route  string
	Method string
}

type DBQueryLabels struct {
	QueryType string
}

type PaymentLabels struct {
	Purpose string
	Channel string
	Status  string
}

func (p PaymentLabels) ToMap() map[string]string {
	return map[string]string{
		"purpose": p.Purpose,
		"channel": p.Channel,
		"status":  p.Status,
	}
}

var PaymentLabelNames = []string{"purpose", "channel", "status"}

type PolicyLabels struct {
	PolicyType string
	Origin     string
}

func (p PolicyLabels) ToMap() map[string]string {
	return map[string]string{
		"policy_type": p.PolicyType,
		"origin":      p.Origin,
	}
}

var PolicyLabelNames = []string{"policy_type", "origin"}

type NotificationLabels struct {
	Channel  string
	Provider string
}

func (n NotificationLabels) ToMap() map[string]string {
	return map[string]string{
		"channel":  n.Channel,
		"provider": n.Provider,
	}
}

var NotificationLabelNames = []string{"channel", "provider"}

type MobileMoneyLabels struct {
	Method     string
	Endpoint   string
	Status     string
	StatusCode string
}

func (m MobileMoneyLabels) ToMap() map[string]string {
	return map[string]string{
		"method":      m.Method,
		"endpoint":    m.Endpoint,
		"status":      m.Status,
		"status_code": m.StatusCode,
	}
}

var MobileMoneyLabelNames = []string{"method", "endpoint", "status", "status_code"}
