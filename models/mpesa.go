package models

// STKCallbackEnvelope is the body Daraja posts to the callback URL.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback carries the final result of an STK push.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is only present on successful payments.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is a Name/Value pair; Value is a number or a string depending on Name.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// Lookup returns the value of the named metadata item.
func (m *CallbackMetadata) Lookup(name string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	for _, item := range m.Item {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

// AsMap flattens the metadata items for audit storage.
func (m *CallbackMetadata) AsMap() map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m.Item))
	for _, item := range m.Item {
		out[item.Name] = item.Value
	}
	return out
}
