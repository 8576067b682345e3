package ordersync

import "errors"

// Order sync errors
var (
	ErrOrderNotFound            = errors.New("ordersync: order not found")
	ErrInvalidOrder             = errors.New("ordersync: invalid order")
	ErrSyncRecordNotFound       = errors.New("ordersync: sync record not found")
	ErrSyncRecordCreateFailed   = errors.New("ordersync: sync record could not be created")
	ErrContactNotFound          = errors.New("ordersync: contact not found")
	ErrContactUnrecoverable     = errors.New("ordersync: contact upsert failed and contact could not be re-fetched")
	ErrNoUsableContact          = errors.New("ordersync: no usable contact returned")
	ErrNotificationNotFound     = errors.New("ordersync: notification record not found")
	ErrDuplicateNotification    = errors.New("ordersync: notification record already exists")
	ErrNotificationAlreadySent  = errors.New("ordersync: notification already sent")
	ErrNotificationInFlight     = errors.New("ordersync: notification send in progress by another worker")
	ErrInvalidNotificationState = errors.New("ordersync: invalid notification status")
	ErrInvalidJobPayload        = errors.New("ordersync: invalid job payload")
)
