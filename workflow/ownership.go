package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
)

// authorizeFarmer loads the farmer and checks the caller owns it. A missing
// farmer and a foreign farmer both report ErrOwnership so ids can't be probed.
// On success the returned context is scoped to the farmer.
func authorizeFarmer(ctx context.Context, store models.Store, farmerId int) (context.Context, *models.Farmer, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return ctx, nil, models.ErrOwnership
	}
	farmer, err := store.GetFarmer(ctx, farmerId)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ctx, nil, models.ErrOwnership
		}
		return ctx, nil, err
	}
	if farmer.UserId != userId {
		return ctx, nil, models.ErrOwnership
	}
	return utils.SetFarmerScopeInContext(ctx, farmer.ID), farmer, nil
}

// systemContext is for work that spans farmers (workers, rollups).
func systemContext(ctx context.Context) context.Context {
	return utils.SetSkipOwnerScopeInContext(ctx)
}
