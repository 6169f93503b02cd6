package service

import (
	"errors"
	"fmt"
)

var (
	ErrRedEnvelopeDisabled = errors.New("红包功能已关闭")
	ErrValidation          = errors.New("参数不合法")
	ErrForbidden           = errors.New("您不是该会话成员")
	ErrNotFound            = errors.New("红包不存在")
	ErrAlreadyClaimedPool  = errors.New("红包已被抢完")
	ErrExpiredPool         = errors.New("红包已过期")
	ErrDuplicateClaim      = errors.New("您已领取过此红包")
	ErrClaimContention     = errors.New("领取失败，请稍后重试")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
