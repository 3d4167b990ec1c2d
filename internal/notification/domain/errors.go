package domain

import "errors"

var ErrUnknownChannel = errors.New("unknown_notification_channel")
