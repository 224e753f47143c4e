package privsep

import (
	"fmt"
	"os/user"
	"strconv"
)

type resolvedUser struct {
	uid, gid int
}

func lookupUser(username string) (resolvedUser, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return resolvedUser{}, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return resolvedUser{}, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return resolvedUser{}, fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}
	return resolvedUser{uid: uid, gid: gid}, nil
}
