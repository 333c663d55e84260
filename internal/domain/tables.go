package domain

var Tables = []interface{}{
	&WhatsAppAccount{},
	&WhatsAppEventLog{},
}
